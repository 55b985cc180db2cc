// Package user holds the profile the engine needs to show who is present.
package user

// User is a registered account. Credentials live elsewhere.
type User struct {
	ID       string `json:"id" dynamodbav:"id" gorm:"primaryKey;size:64"`
	Username string `json:"username" dynamodbav:"username" gorm:"size:255;not null"`
	Email    string `json:"email,omitempty" dynamodbav:"email,omitempty" gorm:"size:255"`
}

// DisplayName returns the name shown to other room members.
func (u User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}
