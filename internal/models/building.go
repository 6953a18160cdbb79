package models

import "time"

// Building 建筑（层级根节点），id 为远端稳定标识
type Building struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ExactType   string     `json:"exactType,omitempty"` // 分类标签
	TimeZone    string     `json:"timeZone,omitempty"`
	Types       []string   `json:"type,omitempty"`
	Address     Address    `json:"address"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	DateCreated *time.Time `json:"dateCreated,omitempty"`
	DateUpdated *time.Time `json:"dateUpdated,omitempty"`

	// 派生字段，由本地存储重新计算
	FloorsCount   int        `json:"floorsCount"`
	SpacesCount   int        `json:"spacesCount"`
	SyncTimestamp *time.Time `json:"syncTimestamp,omitempty"`

	Floors []Floor `json:"floors,omitempty"`
}

// Address 邮政地址
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Floor 楼层
type Floor struct {
	ID          string     `json:"id"`
	BuildingID  string     `json:"buildingId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ExactType   string     `json:"exactType,omitempty"`
	Level       *int       `json:"level,omitempty"`
	DateCreated *time.Time `json:"dateCreated,omitempty"`
	DateUpdated *time.Time `json:"dateUpdated,omitempty"`

	SyncTimestamp *time.Time `json:"syncTimestamp,omitempty"`

	Spaces []Space `json:"spaces,omitempty"`
}

// Space 空间；BuildingID 冗余存储，必须与所属楼层的建筑一致
type Space struct {
	ID          string     `json:"id"`
	FloorID     string     `json:"floorId"`
	BuildingID  string     `json:"buildingId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ExactType   string     `json:"exactType,omitempty"`
	DateCreated *time.Time `json:"dateCreated,omitempty"`
	DateUpdated *time.Time `json:"dateUpdated,omitempty"`

	SyncTimestamp *time.Time `json:"syncTimestamp,omitempty"`
}

// Site 站点（按集合分组的建筑），用于层级查询为空时的回退路径
type Site struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Buildings []Building `json:"buildings"`
}
