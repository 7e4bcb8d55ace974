package models

import "time"

// DirectoryUser is the local replica of a staff member used for approver
// lookups. One row per (user, role) assignment.
type DirectoryUser struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    UserID    `gorm:"not null;index:idx_directory_tenant_user" json:"userId"`
	TenantID  string    `gorm:"type:varchar(255);not null;index:idx_directory_tenant_user;index:idx_directory_tenant_role" json:"tenantId"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Role      RoleID    `gorm:"type:varchar(100);not null;index:idx_directory_tenant_role" json:"role"`
	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for DirectoryUser
func (DirectoryUser) TableName() string {
	return "directory_users"
}

// OrgUnit is the local replica of an organizational unit (department)
type OrgUnit struct {
	ID         OrgUnitID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID   string    `gorm:"type:varchar(255);not null;index" json:"tenantId"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	HeadUserID *UserID   `json:"headUserId,omitempty"`
}

// TableName returns the table name for OrgUnit
func (OrgUnit) TableName() string {
	return "org_units"
}
