// ABOUTME: Service discovery for the AirPlay receiver
// ABOUTME: Advertises the receiver and finds the sender's remote control service
// Package discovery implements the receiver's discovery collaborators.
//
// MDNSPublisher and ZeroconfPublisher advertise the "_raop._tcp" service so
// senders can find the receiver. ZeroconfResolver finds the "_dacp._tcp"
// instance a sender publishes for remote control. Browse lists services of
// any type on the local network.
//
// Example:
//
//	pub := discovery.NewMDNSPublisher()
//	err := pub.Publish("001122334455@Kitchen", 5000, []string{"txtvers=1"})
//	defer pub.Unpublish()
//
//	host, port, err := discovery.NewZeroconfResolver().Resolve(ctx,
//	    "_dacp._tcp", "iTunes_Ctrl_14413BE4996FEA4D")
package discovery
