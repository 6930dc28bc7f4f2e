// Package contact defines the lead-tracking Contact entity and the pure
// rules that operate on it.
//
// # Overview
//
// A Contact is one plant (a prospective customer) together with the person to
// talk to, the call history dates and free-form notes. Contacts live in two
// shapes:
//
//   - Contact: the camelCase record kept in memory and in the local store
//     (slot "zincContacts"), also used for JSON export.
//   - Row: the snake_case record of the remote contacts table, scoped to an
//     organization and carrying created_by/updated_by.
//
// # Status Derivation
//
// When the user does not pick a status, DetermineStatus derives it from the
// next and most recent contact dates:
//
//	next contact within [0, 7] days   → follow-up
//	recent contact within 30 days     → active
//	recent contact within 90 days     → pending
//	otherwise                         → inactive
//
// The first matching rule wins. Day counts are whole calendar days measured
// in the location of the supplied "now".
//
// # Usage Examples
//
//	draft := contact.Draft{
//	    PlantName:   "Armour Galvanizing",
//	    ContactName: "Gloria",
//	    NextContact: contact.MustDate("2025-09-19"),
//	}
//	if err := draft.Validate(); err != nil {
//	    return err
//	}
//	draft = draft.Resolve(time.Now())
package contact
