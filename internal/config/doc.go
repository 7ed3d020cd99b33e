// Package config defines the format-agnostic configuration model of the FTP
// server, along with the Loader interface that fills it from some source.
//
// The `config.Model` is the single source of truth for the `app` package,
// which turns it into `ftp.Options` and `auth.User` values. Concrete
// loaders, such as the HCL one, live in separate packages.
package config
