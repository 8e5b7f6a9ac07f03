package model

import (
	"gorm.io/datatypes"
)

// PredictionRunModel records one invocation of the external forecasting model.
type PredictionRunModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	Market        string         `gorm:"column:market;index"`
	ModelVariant  string         `gorm:"column:model_variant"`
	ModelID       string         `gorm:"column:model_id"`
	TokenizerID   string         `gorm:"column:tokenizer_id"`
	MaxContext    int            `gorm:"column:max_context"`
	Device        string         `gorm:"column:device"`
	Horizon       int            `gorm:"column:horizon"`
	WindowSize    int            `gorm:"column:window_size"`
	WindowFrom    string         `gorm:"column:window_from"`
	WindowTo      string         `gorm:"column:window_to"`
	Predictions   datatypes.JSON `gorm:"column:predictions;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (PredictionRunModel) TableName() string { return "prediction_runs" }
