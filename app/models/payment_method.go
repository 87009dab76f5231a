package models

// PaymentMethod is a catalog entry for a supported payment provider, used by
// the checkout UI to render choices. Only the paypal provider has a wired
// gateway backend.
type PaymentMethod struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	Provider     string `gorm:"type:varchar(50);not null" json:"provider" validate:"required,max=50"`
	IsActive     bool   `gorm:"default:true;index" json:"is_active"`
	Description  string `gorm:"type:text" json:"description"`
	Icon         string `gorm:"type:varchar(100)" json:"icon"`
	DisplayOrder int    `gorm:"default:0" json:"display_order"`
}
