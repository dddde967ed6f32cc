package wallet

import "fmt"

// Contacts returns the wallet's address book.
func (s *Store) Contacts() []Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Contact, len(s.doc.Contacts))
	copy(out, s.doc.Contacts)
	return out
}

// AddContact appends a new address-book entry.
func (s *Store) AddContact(name, address, pk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Contacts = append(s.doc.Contacts, Contact{Name: name, Address: address, PublicKey: pk})
	return s.save()
}

// UpdateContact overwrites the entry at idx.
func (s *Store) UpdateContact(idx int, name, address, pk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.doc.Contacts) {
		return fmt.Errorf("wallet.UpdateContact: index %d out of range", idx)
	}
	s.doc.Contacts[idx] = Contact{Name: name, Address: address, PublicKey: pk}
	return s.save()
}

// DeleteContact removes the entry at idx.
func (s *Store) DeleteContact(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.doc.Contacts) {
		return fmt.Errorf("wallet.DeleteContact: index %d out of range", idx)
	}
	s.doc.Contacts = append(s.doc.Contacts[:idx], s.doc.Contacts[idx+1:]...)
	return s.save()
}
