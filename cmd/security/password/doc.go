// Package password provides Argon2id password hashing with PHC-encoded
// output, plus the length policy applied before hashing. Hashing parameters
// and policy bounds are env-tunable (HELPDESK_ARGON2_*, HELPDESK_PASSWORD_*).
package password
