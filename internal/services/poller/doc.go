// Package poller implements the fetch-and-forward job: once per tick it
// pulls new tweets for every tracked account, rewrites their text, stores
// them with duplicate filtering, fans them out to subscribed chats in order,
// and cleans up subscriptions whose account or chat has become invalid.
//
// Runs never overlap; the delay until the next run is recomputed after each
// run from the number of tracked accounts so the whole account set fits the
// upstream rate window.
package poller
