package credentials

// Authenticator checks login attempts against a Store.
type Authenticator struct {
	store    *Store
	verifier PasswordVerifier
}

// NewAuthenticator returns an Authenticator over store. A nil verifier
// selects BcryptVerifier.
func NewAuthenticator(store *Store, verifier PasswordVerifier) *Authenticator {
	if verifier == nil {
		verifier = BcryptVerifier{}
	}
	return &Authenticator{store: store, verifier: verifier}
}

// Authenticate reports whether password is correct for jid. Unknown
// identities and wrong passwords are indistinguishable to the caller.
func (a *Authenticator) Authenticate(jid, password string) bool {
	rec, ok := a.store.Lookup(jid)
	if !ok {
		return false
	}
	return a.verifier.Verify(rec.PasswordHash, password)
}

// Lookup exposes the underlying store's record for jid.
func (a *Authenticator) Lookup(jid string) (Record, bool) {
	return a.store.Lookup(jid)
}
