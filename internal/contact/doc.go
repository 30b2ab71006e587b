// Package contact maps visitor identity hints onto a Contact record.
//
// An inbound message may carry an existing contact id, an email address, or
// the fields of a widget form. Resolver looks the contact up (by id, then by
// normalized email), creates it on first sight and merges newly supplied
// fields into it: non-empty values overwrite, tags are unioned. At most one
// contact exists per (organization, email); a concurrent create that loses
// the unique-index race re-reads the winner instead of failing.
package contact
