package utils

import (
	"fmt"
	"strings"
)

// Topic layout on the device bus
const (
	EventTopicPattern          = "events/+/standardized"
	TopologyChangedPattern     = "topology/devices/+/changed"
	deviceCommandTopicFormat   = "devices/%s/commands"
	areaCommandTopicFormat     = "areas/%s/commands"
	topologyChangedTopicFormat = "topology/devices/%s/changed"
)

// ParseDeviceID returns the device id of an events/{id}/standardized or
// devices/{id}/... topic.
func ParseDeviceID(topic string) string {
	return TopicSegment(topic, 1)
}

// ParseTopologyDeviceID returns the device id of a topology/devices/{id}/changed topic
func ParseTopologyDeviceID(topic string) string {
	return TopicSegment(topic, 2)
}

// TopicSegment returns the i-th slash separated segment or ""
func TopicSegment(topic string, i int) string {
	parts := strings.Split(topic, "/")
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// DeviceCommandTopic is where device commands are published
func DeviceCommandTopic(deviceID string) string {
	return fmt.Sprintf(deviceCommandTopicFormat, deviceID)
}

// AreaCommandTopic is where arm/disarm commands are published
func AreaCommandTopic(areaID string) string {
	return fmt.Sprintf(areaCommandTopicFormat, areaID)
}

// TopologyChangedTopic is published when a device's area or location changes
func TopologyChangedTopic(deviceID string) string {
	return fmt.Sprintf(topologyChangedTopicFormat, deviceID)
}
