// ABOUTME: DACP remote control for AirPlay receivers
// ABOUTME: Lets a receiver drive playback on the sending device
// Package dacp sends transport commands from an AirPlay receiver back to the
// device that is streaming to it.
//
// A sender announces a DACP-ID and an Active-Remote token when a session
// starts. The receiver looks up the sender's "_dacp._tcp" service instance
// named "iTunes_Ctrl_<DACP-ID>" and sends plain HTTP requests to it:
//
//	GET /ctrl-int/1/nextitem HTTP/1.1
//	Active-Remote: 1986535575
//
// Example:
//
//	client := dacp.NewClient(dacp.Identity{
//		DACPID:       "14413BE4996FEA4D",
//		ActiveRemote: "1986535575",
//	}, resolver, dacp.ClientConfig{})
//	client.Start()
//	defer client.Close()
//
//	<-client.Ready()
//	if err := client.Send(ctx, dacp.NextItem); err != nil {
//		log.Printf("next failed: %v", err)
//	}
package dacp
