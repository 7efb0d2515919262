package engine

import "testing"

func TestAutoScalingSchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule AutoScalingSchedule
		wantErr  bool
	}{
		{name: "empty", schedule: AutoScalingSchedule{}},
		{name: "valid", schedule: AutoScalingSchedule{"monday": {"0": "on", "23": "off"}}},
		{name: "capitalised day", schedule: AutoScalingSchedule{"Friday": {"9": "on"}}},
		{name: "unknown day", schedule: AutoScalingSchedule{"funday": {"8": "on"}}, wantErr: true},
		{name: "hour 24", schedule: AutoScalingSchedule{"monday": {"24": "on"}}, wantErr: true},
		{name: "negative hour", schedule: AutoScalingSchedule{"monday": {"-1": "on"}}, wantErr: true},
		{name: "padded hour", schedule: AutoScalingSchedule{"monday": {"08": "on"}}, wantErr: true},
		{name: "bad state", schedule: AutoScalingSchedule{"monday": {"8": "maybe"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
