// Package feed is the external event feed: one stream of tagged events keyed
// by channel id, merged from two producers.
//
//   - ChatConn: a Twitch IRC connection translating chat traffic (messages,
//     clears, deletions, room-state toggles, raids, subs, gifts, cheers) into
//     room-scoped events.
//   - Poller: a Helix live-status poller diffing stream snapshots for the
//     tracked channel set into channel-scoped events (online, offline, viewer
//     count, title and game changes).
//
// Producers never block: the feed buffers events and drops on overflow with a
// metric increment. The route package consumes Events() and demultiplexes to
// the registered per-channel targets.
package feed
