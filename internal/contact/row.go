package contact

import "time"

// Row is a contact as stored in the remote contacts table. Rows are scoped
// to an organization and record who created and last updated them.
type Row struct {
	ID             string     `json:"id,omitempty"`
	PlantName      string     `json:"plant_name"`
	Location       string     `json:"location"`
	ContactName    string     `json:"contact_name"`
	PhoneNumber    string     `json:"phone_number"`
	EmailAddress   string     `json:"email_address"`
	FirstContact   Date       `json:"first_contact"`
	RecentContact  Date       `json:"recent_contact"`
	NextContact    Date       `json:"next_contact"`
	Frequency      string     `json:"frequency"`
	CallTime       string     `json:"call_time"`
	Notes          string     `json:"notes"`
	Status         Status     `json:"status"`
	OrganizationID string     `json:"organization_id,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// ToRow maps a draft onto a remote row for the given organization. The
// caller fills ID and the created_by/updated_by tags.
func ToRow(d Draft, organizationID string) Row {
	return Row{
		PlantName:      d.PlantName,
		Location:       d.Location,
		ContactName:    d.ContactName,
		PhoneNumber:    d.PhoneNumber,
		EmailAddress:   d.EmailAddress,
		FirstContact:   d.FirstContact,
		RecentContact:  d.RecentContact,
		NextContact:    d.NextContact,
		Frequency:      d.Frequency,
		CallTime:       d.CallTime,
		Notes:          d.Notes,
		Status:         d.Status,
		OrganizationID: organizationID,
	}
}

// Contact converts the row to its in-memory form.
func (r Row) Contact() Contact {
	return Contact{
		ID:            r.ID,
		PlantName:     r.PlantName,
		Location:      r.Location,
		ContactName:   r.ContactName,
		PhoneNumber:   r.PhoneNumber,
		EmailAddress:  r.EmailAddress,
		FirstContact:  r.FirstContact,
		RecentContact: r.RecentContact,
		NextContact:   r.NextContact,
		Frequency:     r.Frequency,
		CallTime:      r.CallTime,
		Notes:         r.Notes,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CreatedBy:     r.CreatedBy,
		UpdatedBy:     r.UpdatedBy,
	}
}

// FromRows converts a slice of rows to contacts, preserving order.
func FromRows(rows []Row) []Contact {
	out := make([]Contact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Contact())
	}
	return out
}
