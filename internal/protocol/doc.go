// Package protocol implements the datagram framing used to stream PCM audio
// over UDP: an 8-byte header followed by a format announcement, a sequenced
// audio payload, or nothing for end of stream.
package protocol
