// Package password hashes email/password credentials for the reference core.
//
// # Output format
//
// Bcrypt hashes use the standard modular crypt form ($2a$...). Argon2id
// hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Verify] picks the algorithm from the stored hash, so switching the
// configured [Hasher] leaves existing credentials usable. [NeedsRehash]
// reports hashes produced by another algorithm or weaker parameters.
//
// Password policy (length, character classes) is not enforced here.
package password
