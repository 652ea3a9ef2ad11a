// Package simplegate is the access-control core of a small file-sharing
// service.
//
// Authenticated users upload files through the Gateway, which rate-limits
// each user, stores the bytes in an ObjectStore and hands back a signed,
// expiring download URL. Anyone holding that URL can fetch the object until it
// expires; downloads are rate-limited per client identity, with a reduced
// ceiling for clients that can only be fingerprinted.
//
// Accounts covers registration and credential login on top of a
// UserRepository, hashing passwords with the password subpackage.
//
// Backends live in subpackages: object stores under storage/ (memory,
// filesystem, S3), rate-limit stores under kvstore/ (memory, Redis, bbolt) and
// user repositories under repo/ (memory, Postgres). The HTTP surface is in
// api/ and process configuration in config/.
//
// Rate limiting fails open when its store is missing or failing. Password
// verification fails closed with ErrLegacyCredentialFormat for records in the
// retired bcrypt format.
package simplegate
