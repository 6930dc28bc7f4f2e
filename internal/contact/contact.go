package contact

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Contact is one tracked lead as held in memory and in the local store.
// Identifiers are unique within a list; dates are optional.
type Contact struct {
	// ===== Identification =====
	ID string `json:"id" yaml:"id,omitempty"`

	// ===== Plant & Person =====
	PlantName    string `json:"plantName" yaml:"plantName"`
	Location     string `json:"location" yaml:"location,omitempty"`
	ContactName  string `json:"contactName" yaml:"contactName,omitempty"`
	PhoneNumber  string `json:"phoneNumber" yaml:"phoneNumber,omitempty"`
	EmailAddress string `json:"emailAddress" yaml:"emailAddress,omitempty"`

	// ===== Call History =====
	FirstContact  Date   `json:"firstContact" yaml:"firstContact,omitempty"`
	RecentContact Date   `json:"recentContact" yaml:"recentContact,omitempty"`
	NextContact   Date   `json:"nextContact" yaml:"nextContact,omitempty"`
	Frequency     string `json:"frequency" yaml:"frequency,omitempty"` // free-text cadence, e.g. "2-3 months"
	CallTime      string `json:"callTime" yaml:"callTime,omitempty"`
	Notes         string `json:"notes" yaml:"notes,omitempty"`

	Status Status `json:"status" yaml:"status,omitempty"`

	// ===== Remote bookkeeping (empty in local-only mode) =====
	CreatedAt *time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" yaml:"-"`
	CreatedBy string     `json:"createdBy,omitempty" yaml:"-"`
	UpdatedBy string     `json:"updatedBy,omitempty" yaml:"-"`
}

// Draft returns the editable fields of c.
func (c Contact) Draft() Draft {
	return Draft{
		PlantName:     c.PlantName,
		Location:      c.Location,
		ContactName:   c.ContactName,
		PhoneNumber:   c.PhoneNumber,
		EmailAddress:  c.EmailAddress,
		FirstContact:  c.FirstContact,
		RecentContact: c.RecentContact,
		NextContact:   c.NextContact,
		Frequency:     c.Frequency,
		CallTime:      c.CallTime,
		Notes:         c.Notes,
		Status:        c.Status,
	}
}

// NewID returns a fresh identifier for a locally created contact.
func NewID() string {
	return uuid.NewString()
}

// Draft is a user submission: every editable field, with Status optional.
type Draft struct {
	PlantName     string `json:"plantName" validate:"required,max=200"`
	Location      string `json:"location" validate:"max=100"`
	ContactName   string `json:"contactName" validate:"max=200"`
	PhoneNumber   string `json:"phoneNumber" validate:"max=50"`
	EmailAddress  string `json:"emailAddress" validate:"omitempty,email"`
	FirstContact  Date   `json:"firstContact"`
	RecentContact Date   `json:"recentContact"`
	NextContact   Date   `json:"nextContact"`
	Frequency     string `json:"frequency" validate:"max=100"`
	CallTime      string `json:"callTime" validate:"max=100"`
	Notes         string `json:"notes"`
	Status        Status `json:"status" validate:"omitempty,oneof=active pending follow-up inactive"`
}

// ErrInvalid is wrapped by every error returned from Draft.Validate.
var ErrInvalid = errors.New("invalid contact")

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names so messages match what users and clients see.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Normalize returns d with surrounding whitespace trimmed from text fields.
func (d Draft) Normalize() Draft {
	d.PlantName = strings.TrimSpace(d.PlantName)
	d.Location = strings.TrimSpace(d.Location)
	d.ContactName = strings.TrimSpace(d.ContactName)
	d.PhoneNumber = strings.TrimSpace(d.PhoneNumber)
	d.EmailAddress = strings.TrimSpace(d.EmailAddress)
	d.Frequency = strings.TrimSpace(d.Frequency)
	d.CallTime = strings.TrimSpace(d.CallTime)
	d.Notes = strings.TrimSpace(d.Notes)
	return d
}

// Validate checks the draft after normalization. A blank plant name, an
// unknown status or a malformed email address are rejected.
func (d Draft) Validate() error {
	n := d.Normalize()
	err := validate.Struct(n)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate contact: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+": "+validationMessage(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "invalid email format"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "invalid value"
	}
}

// Resolve normalizes the draft and derives Status from the dates when the
// user left it unset.
func (d Draft) Resolve(now time.Time) Draft {
	d = d.Normalize()
	if d.Status == "" {
		d.Status = DetermineStatus(d.NextContact, d.RecentContact, now)
	}
	return d
}

// Contact builds a contact with the given id from the draft.
func (d Draft) Contact(id string) Contact {
	return Contact{
		ID:            id,
		PlantName:     d.PlantName,
		Location:      d.Location,
		ContactName:   d.ContactName,
		PhoneNumber:   d.PhoneNumber,
		EmailAddress:  d.EmailAddress,
		FirstContact:  d.FirstContact,
		RecentContact: d.RecentContact,
		NextContact:   d.NextContact,
		Frequency:     d.Frequency,
		CallTime:      d.CallTime,
		Notes:         d.Notes,
		Status:        d.Status,
	}
}

// Apply overwrites the editable fields of c with the draft, keeping the
// identifier and remote bookkeeping.
func (d Draft) Apply(c Contact) Contact {
	updated := d.Contact(c.ID)
	updated.CreatedAt = c.CreatedAt
	updated.UpdatedAt = c.UpdatedAt
	updated.CreatedBy = c.CreatedBy
	updated.UpdatedBy = c.UpdatedBy
	return updated
}
