// Package auth defines FTP users, their path permissions and the Manager
// interface the server uses to look them up, authenticate them and track
// how many sessions each of them holds.
package auth
