package models

import "time"

// SensorPoint 传感器点位，挂在建筑、楼层或空间上
// FloorID / SpaceID 为空表示挂在更高一级
type SensorPoint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ExactType   string    `json:"exactType,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	BuildingID  string    `json:"buildingId"`
	FloorID     string    `json:"floorId,omitempty"`
	SpaceID     string    `json:"spaceId,omitempty"`
	Series      []Reading `json:"series,omitempty"`
}

// Reading 一条原始读数；Value 中最多一个字段有值
type Reading struct {
	Timestamp string   `json:"timestamp"`
	Value     RawValue `json:"value"`
}

// RawValue 远端读数的多类型值
type RawValue struct {
	Float64 *float64 `json:"float64Value,omitempty"`
	Float32 *float32 `json:"float32Value,omitempty"`
	String  *string  `json:"stringValue,omitempty"`
	Bool    *bool    `json:"boolValue,omitempty"`
}

// IsEmpty 读数是否缺失
func (v RawValue) IsEmpty() bool {
	return v.Float64 == nil && v.Float32 == nil && v.String == nil && v.Bool == nil
}

// ParseTimestamp 解析读数时间戳（RFC3339，可带小数秒）
func (r Reading) ParseTimestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}
