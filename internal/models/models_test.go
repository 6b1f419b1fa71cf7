// Tandem - Accountability Partnership Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package models

import (
	"testing"
	"time"
)

func TestWeekScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		sched   WeekSchedule
		wantErr bool
	}{
		{
			name:  "empty schedule",
			sched: WeekSchedule{},
		},
		{
			name: "single interval",
			sched: WeekSchedule{
				time.Monday: {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
			},
		},
		{
			name: "adjacent intervals do not overlap",
			sched: WeekSchedule{
				time.Monday: {
					{StartMinute: 9 * 60, EndMinute: 12 * 60},
					{StartMinute: 12 * 60, EndMinute: 17 * 60},
				},
			},
		},
		{
			name: "overlapping intervals rejected",
			sched: WeekSchedule{
				time.Monday: {
					{StartMinute: 9 * 60, EndMinute: 13 * 60},
					{StartMinute: 12 * 60, EndMinute: 17 * 60},
				},
			},
			wantErr: true,
		},
		{
			name: "overlap detected regardless of input order",
			sched: WeekSchedule{
				time.Tuesday: {
					{StartMinute: 12 * 60, EndMinute: 17 * 60},
					{StartMinute: 9 * 60, EndMinute: 13 * 60},
				},
			},
			wantErr: true,
		},
		{
			name: "inverted interval rejected",
			sched: WeekSchedule{
				time.Monday: {{StartMinute: 17 * 60, EndMinute: 9 * 60}},
			},
			wantErr: true,
		},
		{
			name: "end past midnight rejected",
			sched: WeekSchedule{
				time.Monday: {{StartMinute: 23 * 60, EndMinute: 25 * 60}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWeekScheduleOverlapMinutes(t *testing.T) {
	nineToFive := WeekSchedule{
		time.Monday:  {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
		time.Tuesday: {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
	}
	afternoon := WeekSchedule{
		time.Monday:    {{StartMinute: 13 * 60, EndMinute: 18 * 60}},
		time.Wednesday: {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
	}

	// Monday 13:00-17:00 is the only shared window.
	if got := nineToFive.OverlapMinutes(afternoon); got != 4*60 {
		t.Errorf("OverlapMinutes = %d, want %d", got, 4*60)
	}

	// Overlap is symmetric.
	if got := afternoon.OverlapMinutes(nineToFive); got != 4*60 {
		t.Errorf("reverse OverlapMinutes = %d, want %d", got, 4*60)
	}

	if got := nineToFive.TotalMinutes(); got != 16*60 {
		t.Errorf("TotalMinutes = %d, want %d", got, 16*60)
	}
}

func TestOrderPair(t *testing.T) {
	a, b := OrderPair("user-b", "user-a")
	if a != "user-a" || b != "user-b" {
		t.Errorf("OrderPair = (%s, %s), want (user-a, user-b)", a, b)
	}

	a, b = OrderPair("user-a", "user-b")
	if a != "user-a" || b != "user-b" {
		t.Errorf("OrderPair already ordered = (%s, %s)", a, b)
	}
}

func TestPartnershipParticipants(t *testing.T) {
	p := &Partnership{UserA: "alice", UserB: "bob", Initiator: "bob"}

	if !p.Participant("alice") || !p.Participant("bob") {
		t.Error("both members should be participants")
	}
	if p.Participant("carol") {
		t.Error("non-member should not be a participant")
	}
	if got := p.Other("alice"); got != "bob" {
		t.Errorf("Other(alice) = %s, want bob", got)
	}
	if got := p.Recipient(); got != "alice" {
		t.Errorf("Recipient = %s, want alice", got)
	}
}

func TestStatusLiveAndCounted(t *testing.T) {
	tests := []struct {
		status  PartnershipStatus
		live    bool
		counted bool
	}{
		{StatusPending, true, false},
		{StatusActive, true, true},
		{StatusPaused, true, true},
		{StatusRejected, false, false},
		{StatusExpired, false, false},
		{StatusEnded, false, false},
	}

	for _, tt := range tests {
		if got := tt.status.Live(); got != tt.live {
			t.Errorf("%s.Live() = %v, want %v", tt.status, got, tt.live)
		}
		if got := tt.status.Counted(); got != tt.counted {
			t.Errorf("%s.Counted() = %v, want %v", tt.status, got, tt.counted)
		}
	}
}

func TestCommunicationStyleValid(t *testing.T) {
	for _, s := range []CommunicationStyle{StyleDirect, StyleSupportive, StyleBalanced, StyleAnalytical} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if CommunicationStyle("SHOUTY").Valid() {
		t.Error("unknown style should be invalid")
	}
}
