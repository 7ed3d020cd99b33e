// Package ftp implements an FTP server.
//
// # Sessions
//
// Every accepted control connection gets its own session goroutine. The
// session greets the client, then reads one command line at a time and runs
// the matching handler. Handlers are cheap and run inline. Anything that
// moves data (RETR, STOR, APPE, LIST, MLSD) is handed to a transfer worker
// goroutine, so the session keeps reading commands and ABOR can cancel the
// transfer while it is running.
//
// # Paths
//
// Clients see a virtual tree rooted at "/". A user's virtual root maps onto
// the user's base directory on the pathio backend, and no virtual path can
// resolve above it.
//
// # Data connections
//
// Only passive mode is supported (PASV and EPSV). The passive listener of a
// session lives until the session ends. When the server has a data port
// list, ports are leased from a priority queue, ports that turned out to be
// busy sink to the back of it.
package ftp
