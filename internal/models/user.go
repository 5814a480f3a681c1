package models

import "time"

// User represents any account in the system, named or guest.
type User struct {
	ID                 string    `json:"id"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"` // Never expose this to the client
	IsGuest            bool      `json:"isGuest"`
	IsDeleted          bool      `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	PaymentCustomerRef string    `json:"-"`
}

// UserData is the projection returned alongside a session token.
type UserData struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Profile is the non-sensitive view of a user returned by the profile endpoint.
type Profile struct {
	ID                 string    `json:"id"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	Email              string    `json:"email"`
	IsGuest            bool      `json:"isGuest"`
	PaymentCustomerRef string    `json:"stripeId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Data projects the user onto the fields shared with the client on login.
func (u User) Data() UserData {
	return UserData{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

// Profile projects the user onto its non-sensitive profile view.
func (u User) Profile() Profile {
	return Profile{
		ID:                 u.ID,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Email:              u.Email,
		IsGuest:            u.IsGuest,
		PaymentCustomerRef: u.PaymentCustomerRef,
		CreatedAt:          u.CreatedAt,
	}
}

// Session is the result of a successful login or guest login.
type Session struct {
	Token    string   `json:"token"`
	UserData UserData `json:"userData"`
}
