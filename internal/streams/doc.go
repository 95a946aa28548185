// Package streams resolves a lecture's media description into a retrievable
// audio source and parses HLS playlists.
package streams
