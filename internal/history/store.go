package history

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"klinecast/internal/market"
)

// Key 标识一条缓存序列。
type Key struct {
	Symbol string
	Market market.Market
}

func NewKey(symbol string, m market.Market) Key {
	return Key{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Market: m}
}

func (k Key) String() string { return k.Symbol + "@" + k.Market.Key() }

// Range 表示一个闭区间日期范围。
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) Valid() bool { return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From) }

// Entry 是缓存序列的元信息（清单）。
type Entry struct {
	Exists        bool
	Symbol        string
	Market        market.Market
	CoveredFrom   time.Time
	CoveredTo     time.Time
	Rows          int64
	LastFetchedAt time.Time
}

// Stale 判断缓存对“今天”的交易日数据是否已过期：
// last_fetched_at 早于当前 UTC 交易日边界即为过期。
// 过期只触发尾部刷新，不影响历史数据有效性。
func (e Entry) Stale(now time.Time) bool {
	if !e.Exists {
		return true
	}
	return e.LastFetchedAt.Before(market.Day(now))
}

// Covers 判断清单覆盖范围是否完全包含请求区间。
func (e Entry) Covers(r Range) bool {
	if !e.Exists || e.CoveredFrom.IsZero() || e.CoveredTo.IsZero() {
		return false
	}
	return !r.From.Before(e.CoveredFrom) && !r.To.After(e.CoveredTo)
}

// Store 按 (symbol, market) 分库持久化日线序列：
// <root>/<SYMBOL>/<market>.db，bars 表存数据，manifest 表存覆盖元信息。
type Store struct {
	root string
	now  func() time.Time

	mu    sync.Mutex
	dbs   map[string]*sql.DB
	locks map[string]*sync.Mutex
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		root:  root,
		now:   time.Now,
		dbs:   make(map[string]*sql.DB),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// SetClock 注入时间源（测试用）。
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(key Key) (*sql.DB, error) {
	if key.Symbol == "" || key.Market == "" {
		return nil, fmt.Errorf("symbol/market 不能为空")
	}
	id := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[id]; ok && db != nil {
		return db, nil
	}
	path := s.dbPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, key); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[id] = db
	return db, nil
}

func (s *Store) dbPath(key Key) string {
	return filepath.Join(s.root, key.Symbol, key.Market.Key()+".db")
}

// keyLock 返回该键的互斥锁；合并按键串行，互不相干的键并行。
func (s *Store) keyLock(key Key) *sync.Mutex {
	id := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

func ensureSchema(db *sql.DB, key Key) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			date   TEXT PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL,
			amount REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			covered_from TEXT,
			covered_to TEXT,
			rows INTEGER DEFAULT 0,
			last_fetched_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, market) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, market=excluded.market;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, key.Symbol, key.Market.Key())
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Read 返回清单与 [start,end] 区间内已缓存的 Bar（升序）。
// 该键从未成功拉取过时 Entry.Exists 为 false。
func (s *Store) Read(ctx context.Context, key Key, start, end time.Time) (Entry, []market.Bar, error) {
	db, err := s.db(key)
	if err != nil {
		return Entry{}, nil, err
	}
	entry, err := s.readManifest(ctx, db, key)
	if err != nil {
		return Entry{}, nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume, amount
		FROM bars WHERE date BETWEEN ? AND ?
		ORDER BY date ASC`,
		market.Day(start).Format(market.DateLayout),
		market.Day(end).Format(market.DateLayout))
	if err != nil {
		return Entry{}, nil, err
	}
	defer rows.Close()
	var bars []market.Bar
	for rows.Next() {
		var dateStr string
		var b market.Bar
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount); err != nil {
			return Entry{}, nil, err
		}
		d, err := market.ParseDate(dateStr)
		if err != nil {
			return Entry{}, nil, err
		}
		b.Date = d
		bars = append(bars, b)
	}
	return entry, bars, rows.Err()
}

func (s *Store) readManifest(ctx context.Context, db *sql.DB, key Key) (Entry, error) {
	row := db.QueryRowContext(ctx, `SELECT covered_from, covered_to, rows, last_fetched_at FROM manifest WHERE id=1`)
	var from, to sql.NullString
	var count sql.NullInt64
	var fetchedAt sql.NullInt64
	if err := row.Scan(&from, &to, &count, &fetchedAt); err != nil {
		if err == sql.ErrNoRows {
			return Entry{Symbol: key.Symbol, Market: key.Market}, nil
		}
		return Entry{}, err
	}
	entry := Entry{Symbol: key.Symbol, Market: key.Market, Rows: count.Int64}
	if from.Valid && from.String != "" && to.Valid && to.String != "" {
		f, err := market.ParseDate(from.String)
		if err != nil {
			return Entry{}, err
		}
		t, err := market.ParseDate(to.String)
		if err != nil {
			return Entry{}, err
		}
		entry.Exists = true
		entry.CoveredFrom = f
		entry.CoveredTo = t
	}
	if fetchedAt.Valid && fetchedAt.Int64 > 0 {
		entry.LastFetchedAt = time.UnixMilli(fetchedAt.Int64).UTC()
	}
	return entry, nil
}

// Merge 将新 Bar 合并进序列：按日期去重（新数据胜出）、保持严格升序，
// 并把 covered_range 扩展为旧覆盖与本次成功拉取区间的并集。
// 同键合并串行执行，读者只会看到合并前或合并后的完整状态。
func (s *Store) Merge(ctx context.Context, key Key, bars []market.Bar, fetched Range) error {
	if !fetched.Valid() {
		return fmt.Errorf("fetched range 无效")
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	db, err := s.db(key)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (date, open, high, low, close, volume, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    amount=excluded.amount`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, b.DateKey(), b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	fromKey := market.Day(fetched.From).Format(market.DateLayout)
	toKey := market.Day(fetched.To).Format(market.DateLayout)
	_, err = tx.ExecContext(ctx, `
		UPDATE manifest
		SET covered_from = CASE WHEN covered_from IS NULL OR covered_from = '' OR covered_from > ? THEN ? ELSE covered_from END,
		    covered_to   = CASE WHEN covered_to   IS NULL OR covered_to   = '' OR covered_to   < ? THEN ? ELSE covered_to   END,
		    rows = (SELECT COUNT(1) FROM bars),
		    last_fetched_at = ?
		WHERE id = 1`,
		fromKey, fromKey, toKey, toKey, s.now().UnixMilli())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Invalidate 手动清空某键的缓存（数据与清单），缓存从不隐式删除。
func (s *Store) Invalidate(ctx context.Context, key Key) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	db, err := s.db(key)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bars`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE manifest SET covered_from='', covered_to='', rows=0, last_fetched_at=NULL WHERE id=1`); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Manifest 返回清单信息。
func (s *Store) Manifest(ctx context.Context, key Key) (Entry, error) {
	db, err := s.db(key)
	if err != nil {
		return Entry{}, err
	}
	return s.readManifest(ctx, db, key)
}

// ExportCSV 将区间内的序列导出为 CSV（date,open,high,low,close,volume,amount）。
func (s *Store) ExportCSV(ctx context.Context, key Key, start, end time.Time, w io.Writer) (int, error) {
	_, bars, err := s.Read(ctx, key, start, end)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "open", "high", "low", "close", "volume", "amount"}); err != nil {
		return 0, err
	}
	for _, b := range bars {
		row := []string{
			b.DateKey(),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
			formatFloat(b.Amount),
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(bars), cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
