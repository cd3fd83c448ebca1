package model

import "time"

type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"size:128;not null;uniqueIndex:uq_users_name" json:"name"`
	PhoneNumber string     `gorm:"size:32" json:"phone_number"`
	Password    string     `gorm:"size:255;not null" json:"-"`
	IsAdmin     bool       `gorm:"not null;default:false" json:"is_admin"`
	Approved    bool       `gorm:"not null;default:false" json:"approved"`
	ApprovedAt  *time.Time `json:"approved_at"`
	Role        string     `gorm:"size:32" json:"role"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Contact   string    `gorm:"size:64" json:"contact"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

type Estate struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index" json:"user_id"`
	Project     string    `gorm:"size:128" json:"project"`
	Block       string    `gorm:"size:64" json:"block"`
	Floor       int       `json:"floor"`
	Area        float64   `json:"area"`
	Rooms       int       `json:"rooms"`
	EstateType  string    `gorm:"size:64" json:"estate_type"`
	PhoneNumber string    `gorm:"size:32" json:"phone_number"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Estate) TableName() string { return "estates" }

type CustomerOption struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type EstateOption struct {
	ID         uint    `json:"id"`
	Project    string  `json:"project"`
	Block      string  `json:"block"`
	Floor      int     `json:"floor"`
	Area       float64 `json:"area"`
	Rooms      int     `json:"rooms"`
	EstateType string  `json:"estate_type"`
	Price      float64 `json:"price"`
}
