// ABOUTME: AirPlay receiver session bridge
// ABOUTME: Connects a RAOP protocol engine to local audio output and the application
// Package airstream turns a device into an AirPlay audio receiver.
//
// The RAOP protocol engine (RTSP negotiation, RTP transport, decryption) is a
// collaborator behind the Engine interface. This package owns everything
// between that engine and the application:
//   - Receiver: binds the port, starts the engine, advertises the service
//   - Sessions: Idle -> Negotiated -> Streaming <-> Flushing -> Ended
//   - A handoff buffer per session feeding the audio Sink
//   - DMAP metadata decoding and playback state (volume, track info, cover art, position)
//   - DACP remote control back to the sender
//
// Example:
//
//	receiver, err := airstream.NewReceiver(airstream.ServerConfig{
//	    Name: "Living Room",
//	}, airstream.Dependencies{
//	    Engine:    engine,
//	    Publisher: discovery.NewMDNSPublisher(),
//	    Resolver:  discovery.NewZeroconfResolver(),
//	    Sink:      output.NewOto(),
//	    Observer: airstream.ObserverFuncs{
//	        OnMetadata: func(md dmap.Metadata) {
//	            log.Printf("Now playing: %s - %s", md.Artist(), md.Title())
//	        },
//	    },
//	})
//	err = receiver.Start()
//	defer receiver.Stop()
//
//	err = receiver.SendRemoteCommand(ctx, dacp.NextItem)
package airstream
