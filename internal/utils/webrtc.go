package utils

import (
	"github.com/pion/webrtc/v3"

	"interview/internal/config"
)

// GetWebRTCConfig builds the ICE server configuration clients use to open
// their peer connections. The service only hands this out; media negotiation
// and transport happen entirely between peers.
func GetWebRTCConfig(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	for _, stun := range cfg.StunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{stun},
		})
	}
	if cfg.TurnURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TurnURL},
			Username:   cfg.TurnUsername,
			Credential: cfg.TurnPassword,
		})
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
	}
}
