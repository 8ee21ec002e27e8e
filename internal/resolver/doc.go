package resolver

// Package resolver memoizes hostname resolution for the DIRECT routing path.
//
// Entries never expire: the proxy is expected to run as a session-scoped
// process, so the first address resolved for a host is used for the rest of
// the process's lifetime.
