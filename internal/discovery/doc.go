// Package discovery ingests passive device announcements from the
// broker.
//
// Field devices announce themselves on the discovery topic with their
// identity and capability set. The listener validates each announcement
// and upserts the device into the registry as discovered. Announcements
// never advance pairing state; a re-announcing device only refreshes
// its network identity.
package discovery
