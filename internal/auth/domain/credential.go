package domain

import "time"

// Mailbox providers an owner can connect.
const (
	ProviderGoogle = "google"
	ProviderIMAP   = "imap"
)

// MailboxCredential holds what is needed to read one owner's mailbox.
// IMAPPassword is stored encrypted.
type MailboxCredential struct {
	OwnerID      string    `json:"owner_id" gorm:"primaryKey;type:varchar(128)"`
	Provider     string    `json:"provider" gorm:"type:varchar(16);not null"` // "google" or "imap"
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"-"`
	IMAPServer   string    `json:"imap_server,omitempty" gorm:"column:imap_server"`
	IMAPPort     int       `json:"imap_port,omitempty" gorm:"column:imap_port"`
	IMAPUsername string    `json:"imap_username,omitempty" gorm:"column:imap_username"`
	IMAPPassword string    `json:"-" gorm:"column:imap_password"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (MailboxCredential) TableName() string {
	return "mailbox_credentials"
}
