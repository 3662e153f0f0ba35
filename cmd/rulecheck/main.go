// Command rulecheck validates a rule file and, given a sample event,
// reports which event rules would match it. Temporal conditions and
// actions are not run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/austin-smith/fusion-bridge-sub010/internal/automation"
	"github.com/austin-smith/fusion-bridge-sub010/internal/facts"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
	"github.com/austin-smith/fusion-bridge-sub010/internal/rulefile"
	"github.com/austin-smith/fusion-bridge-sub010/internal/scheduler"
)

func main() {
	rulesPath := flag.String("rules", "rules.yaml", "rule file to check")
	eventPath := flag.String("event", "", "JSON file with a StandardizedEvent to evaluate")
	devicePath := flag.String("device", "", "JSON file with the DeviceContext of the event's device")
	flag.Parse()

	data, err := os.ReadFile(*rulesPath)
	if err != nil {
		fail("read rules: %v", err)
	}
	rules, err := rulefile.Parse(data)
	if err != nil {
		fail("%s: %v", *rulesPath, err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	invalid := 0
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			invalid++
			fmt.Printf("INVALID  %s: %v\n", rule.ID, err)
			continue
		}
		if rule.IsScheduled() && rule.Trigger.TimeZone != "" {
			if _, err := scheduler.ParseSchedule(rule.Trigger.CronExpression, rule.Trigger.TimeZone); err != nil {
				invalid++
				fmt.Printf("INVALID  %s: %v\n", rule.ID, err)
				continue
			}
		}
		fmt.Printf("ok       %s (%s)\n", rule.ID, rule.Trigger.Type)
	}

	if *eventPath != "" {
		var event models.StandardizedEvent
		readJSON(*eventPath, &event)
		device := models.DeviceContext{DeviceID: event.DeviceID}
		if *devicePath != "" {
			readJSON(*devicePath, &device)
		}
		f := facts.Resolve(event, device)
		fmt.Printf("\nevent %s (%s/%s) on %s\n", event.ID, event.Category, event.Type, event.DeviceID)
		for _, rule := range rules {
			if !rule.Enabled || rule.IsScheduled() || rule.Validate() != nil {
				continue
			}
			matched := automation.Evaluate(rule.Trigger.Conditions, f)
			suffix := ""
			if matched && len(rule.TemporalConditions) > 0 {
				suffix = fmt.Sprintf(" (%d temporal conditions not checked)", len(rule.TemporalConditions))
			}
			fmt.Printf("  %-5t %s%s\n", matched, rule.ID, suffix)
		}
	}

	if invalid > 0 {
		os.Exit(1)
	}
}

func readJSON(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		fail("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		fail("parse %s: %v", path, err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
