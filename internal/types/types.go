// Package types defines the entity model shared by the store, the sync
// engine, and the reference sync server.
package types

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SyncStatus tracks where a record stands relative to the remote authority.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
)

// SyncMeta is the synchronization metadata carried by every tracked record.
// LastSyncedAt and DeletedAt stay nil until the record has been acknowledged
// or soft-deleted respectively.
type SyncMeta struct {
	SyncStatus   SyncStatus `json:"syncStatus"`
	IsDirty      bool       `json:"isDirty"`
	LastModified time.Time  `json:"lastModified"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// EmployeeRole enumerates access roles.
type EmployeeRole string

const (
	RoleAdmin      EmployeeRole = "admin"
	RoleSupervisor EmployeeRole = "supervisor"
	RoleEmployee   EmployeeRole = "employee"
)

// EmployeeStatus enumerates employment states.
type EmployeeStatus string

const (
	EmployeeActive   EmployeeStatus = "active"
	EmployeeInactive EmployeeStatus = "inactive"
)

// Employee is a tracked record describing a system user.
type Employee struct {
	ID                 string         `json:"id"`
	FullName           string         `json:"fullName"`
	Email              string         `json:"email"`
	Phone              string         `json:"phone"`
	Department         string         `json:"department"`
	Role               EmployeeRole   `json:"role"`
	Status             EmployeeStatus `json:"status"`
	PasswordHash       string         `json:"passwordHash"`
	PasswordSalt       string         `json:"passwordSalt"`
	CreatedAt          string         `json:"createdAt"`
	Location           string         `json:"location"`
	TwoFactorEnabled   bool           `json:"twoFactorEnabled"`
	EmailNotifications bool           `json:"emailNotifications"`
	LowStockAlerts     bool           `json:"lowStockAlerts"`
	Language           string         `json:"language"`
	SyncMeta
}

// ValueCategory classifies a product by value band.
type ValueCategory string

const (
	ValueLow    ValueCategory = "LV"
	ValueMedium ValueCategory = "MV"
	ValueHigh   ValueCategory = "HV"
)

// ProductStatus enumerates inventory states of a product.
type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductAssigned  ProductStatus = "assigned"
	ProductReturned  ProductStatus = "returned"
)

// Product is a tracked inventory record.
type Product struct {
	ID                   string        `json:"id"`
	ValueCategory        ValueCategory `json:"valueCategory"`
	Article              string        `json:"article"`
	Date                 string        `json:"date"`
	Description          string        `json:"description"`
	PARControlNumber     string        `json:"parControlNumber"`
	PropertyNumber       string        `json:"propertyNumber"`
	Unit                 string        `json:"unit"`
	UnitValue            float64       `json:"unitValue"`
	BalancePerCard       int           `json:"balancePerCard"`
	OnHandPerCount       int           `json:"onHandPerCount"`
	Total                float64       `json:"total"`
	Remarks              string        `json:"remarks"`
	Location             string        `json:"location"`
	AssignedToEmployeeID string        `json:"assignedToEmployeeId,omitempty"`
	Status               ProductStatus `json:"status"`
	SyncMeta
}

// ReturnCondition describes the physical condition of a returned item.
type ReturnCondition string

const (
	ConditionFunctional  ReturnCondition = "functional"
	ConditionDestroyed   ReturnCondition = "destroyed"
	ConditionForDisposal ReturnCondition = "for disposal"
	ConditionNeedRepair  ReturnCondition = "need repair"
	ConditionDamaged     ReturnCondition = "damaged"
)

// ReturnStatus enumerates processing states of a return.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "pending"
	ReturnApproved ReturnStatus = "approved"
	ReturnRejected ReturnStatus = "rejected"
)

// ReturnReceiverEntry is a child row of a Return. Receivers are never
// synchronized on their own; the owning Return replaces them wholesale.
type ReturnReceiverEntry struct {
	EmployeeID   string       `json:"employeeId"`
	Position     EmployeeRole `json:"position"`
	ReceivedDate string       `json:"receivedDate"`
	Location     string       `json:"location"`
}

// ReturnRecord is a tracked record plus its owned receiver entries.
type ReturnRecord struct {
	ID                    string                `json:"id"`
	RRSPNumber            string                `json:"rrspNumber"`
	ProductID             string                `json:"productId"`
	ReturnDate            string                `json:"returnDate"`
	Quantity              int                   `json:"quantity"`
	Condition             ReturnCondition       `json:"condition"`
	Remarks               string                `json:"remarks"`
	ReturnedByEmployeeID  string                `json:"returnedByEmployeeId"`
	ReturnedByPosition    EmployeeRole          `json:"returnedByPosition"`
	ReceivedDate          string                `json:"receivedDate"`
	Location              string                `json:"location"`
	ReceivedByEntries     []ReturnReceiverEntry `json:"receivedByEntries"`
	CreatedAt             string                `json:"createdAt"`
	Status                ReturnStatus          `json:"status"`
	ProcessedByEmployeeID string                `json:"processedByEmployeeId,omitempty"`
	ProcessedDate         string                `json:"processedDate,omitempty"`
	ProcessingNotes       string                `json:"processingNotes,omitempty"`
	SyncMeta
}

// ActivityLog is a tracked audit record.
type ActivityLog struct {
	ID                    string `json:"id"`
	Action                string `json:"action"`
	EntityType            string `json:"entityType"`
	EntityID              string `json:"entityId"`
	PerformedByEmployeeID string `json:"performedByEmployeeId"`
	Timestamp             string `json:"timestamp"`
	Details               string `json:"details"`
	Status                string `json:"status"`
	IPAddress             string `json:"ipAddress"`
	SyncMeta
}

// SystemSettings is a tracked record holding the installation configuration.
type SystemSettings struct {
	ID                          string `json:"id"`
	SystemName                  string `json:"systemName"`
	CompanyName                 string `json:"companyName"`
	TimeZone                    string `json:"timeZone"`
	DateFormat                  string `json:"dateFormat"`
	MaintenanceMode             bool   `json:"maintenanceMode"`
	NotificationsLowStock       bool   `json:"notificationsLowStock"`
	NotificationsNewReturn      bool   `json:"notificationsNewReturn"`
	NotificationsReturnApproved bool   `json:"notificationsReturnApproved"`
	NotificationsEmployeeAdded  bool   `json:"notificationsEmployeeAdded"`
	NotificationsSystemUpdates  bool   `json:"notificationsSystemUpdates"`
	PasswordPolicy              string `json:"passwordPolicy"`
	SessionTimeoutMinutes       int    `json:"sessionTimeoutMinutes"`
	MaxLoginAttempts            int    `json:"maxLoginAttempts"`
	RequireTwoFactor            bool   `json:"requireTwoFactor"`
	IPWhitelistEnabled          bool   `json:"ipWhitelistEnabled"`
	BackupFrequency             string `json:"backupFrequency"`
	LastBackupAt                string `json:"lastBackupAt"`
	SMTPServer                  string `json:"smtpServer"`
	SMTPPort                    string `json:"smtpPort"`
	SMTPEncryption              string `json:"smtpEncryption"`
	SMTPFromEmail               string `json:"smtpFromEmail"`
	APIKey                      string `json:"apiKey"`
	APIRateLimit                int    `json:"apiRateLimit"`
	APIEnabled                  bool   `json:"apiEnabled"`
	SyncMeta
}

// DeleteMarker is the outbox payload for a delete operation.
type DeleteMarker struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
}

// LegacyDump is the bulk payload consumed by the legacy importer.
type LegacyDump struct {
	Employees    []Employee       `json:"employees"`
	Products     []Product        `json:"products"`
	Returns      []ReturnRecord   `json:"returns"`
	ActivityLogs []ActivityLog    `json:"activityLogs"`
	Settings     []SystemSettings `json:"settings"`
}

// NewID returns a new lexicographically sortable record id.
func NewID() string {
	return ulid.Make().String()
}
