package registry

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CreateAdmin stores a new admin account with a bcrypt password hash.
func (r *Registry) CreateAdmin(fullName, email, password string) (*Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.adminEmails[email]; taken {
		return nil, ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a := Admin{
		FullName:     fullName,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	a.ID = r.allocate(collAdmins)
	if err := r.store.Insert(collAdmins, key(a.ID), a); err != nil {
		return nil, err
	}
	r.adminEmails[email] = a.ID
	return &a, nil
}

// AuthenticateAdmin verifies an email/password pair. Both unknown email and
// wrong password return ErrInvalidCredentials.
func (r *Registry) AuthenticateAdmin(email, password string) (*Admin, error) {
	r.mu.Lock()
	id, ok := r.adminEmails[email]
	r.mu.Unlock()

	if !ok {
		return nil, ErrInvalidCredentials
	}

	var a Admin
	if err := r.store.Get(collAdmins, key(id), &a); err != nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &a, nil
}
