// internal/model/recipient.go
package model

// Recipient is a row of the store's customer table as seen by the newsletter
// module. The module never writes it.
type Recipient struct {
	CustomerID int    `db:"id_customer" json:"customer_id"`
	Email      string `db:"email" json:"email"`
	FirstName  string `db:"firstname" json:"first_name"`
	LastName   string `db:"lastname" json:"last_name"`
	OptedIn    bool   `db:"newsletter" json:"opted_in"`
	Active     bool   `db:"active" json:"active"`
}
