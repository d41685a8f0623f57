package admin

import "fmt"

// Channel pattern: warren:{instance_name}:{name}

// CommandChannel returns the Pub/Sub channel operators publish commands on.
// Format: warren:{instance}:admin
func CommandChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:admin", instanceName)
}

// ReplyChannel returns the Pub/Sub channel the daemon publishes replies on.
// Format: warren:{instance}:admin_replies
func ReplyChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:admin_replies", instanceName)
}
