package models

// EmergencyContact is a person to notify on behalf of a driver.
type EmergencyContact struct {
	ID          int64  `json:"contact_id" bson:"_id"`
	UserID      int64  `json:"user_id" bson:"user_id"`
	Name        string `json:"name" bson:"name"`
	PhoneNumber string `json:"phone_number" bson:"phone_number"`
	IsActive    bool   `json:"is_active" bson:"is_active"`
}

// ContactCreate is the request body for adding a contact.
type ContactCreate struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

// ContactUpdate carries the contact fields to change. Nil fields are left untouched.
type ContactUpdate struct {
	Name        *string `json:"name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Apply copies the non-nil fields of the update onto the contact.
func (u ContactUpdate) Apply(c *EmergencyContact) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.PhoneNumber != nil {
		c.PhoneNumber = *u.PhoneNumber
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
}
