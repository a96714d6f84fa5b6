// Package source provides audio sources that push raw PCM buffers into a
// capture session: the default input device, a UDP datagram listener and a
// synthetic tone generator.
package source
