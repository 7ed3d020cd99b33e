// Package hcl_adapter loads the server configuration from HCL files into
// the format-agnostic config.Model.
//
// A configuration may be split over any number of files:
//
//	server {
//	  port       = 2121
//	  data_ports = "30000-30009"
//	  read_speed_limit = "10 MiB"
//	}
//
//	user "alice" {
//	  password  = env("ALICE_PASSWORD")
//	  base_path = "/srv/ftp/alice"
//
//	  permission "/" {
//	    writable = false
//	  }
//	}
//
//	user "*" {
//	  base_path = "/srv/ftp/pub"
//	}
package hcl_adapter
