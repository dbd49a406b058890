// Package auth issues and checks admin API tokens.
//
// Tokens are HS256 JWTs signed with the configured secret. Each carries a
// role; the role grants a fixed set of permissions:
//   - viewer reads sink statistics and dead letters
//   - operator can also replay and delete dead letters
//
// Tokens are minted offline with the "token" subcommand. There are no user
// accounts and no refresh tokens.
package auth
