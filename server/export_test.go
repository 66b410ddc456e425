package server

import "time"

// Test helpers for the external server_test package

// SetChatPacing changes the pause between reply lines
func (f *FleetManager) SetChatPacing(d time.Duration) {
	f.chatPacing = d
}
