package producer

import (
	"fmt"
	"log/slog"

	"github.com/mbocsi/vshadow/proto"
	"github.com/mbocsi/vshadow/store"
)

const (
	PathSpeed       = "Vehicle.Speed"
	PathEngineRPM   = "Vehicle.Engine.RPM"
	PathBattery     = "Vehicle.Battery.Voltage"
	PathDoorFront   = "Vehicle.Doors.FrontLeft"
	PathHeadlights  = "Vehicle.Lights.Headlights"
	PathEngineTemp  = "Vehicle.Temperature.Engine"
	PathPositionX   = "Vehicle.Position.X"
	PathPositionY   = "Vehicle.Position.Y"
	PathPositionZ   = "Vehicle.Position.Z"
	PathOrientation = "Vehicle.Orientation.Yaw"
)

// Vehicle writes observed vehicle state into the store. Writes bypass locks
// and replace only the value, so capability and availability are kept.
type Vehicle struct {
	store *store.SignalStore
}

func NewVehicle(st *store.SignalStore) *Vehicle {
	return &Vehicle{store: st}
}

func (v *Vehicle) update(path string, value proto.Value) error {
	if !v.store.Update(path, proto.StatePatch{Value: &value}) {
		return fmt.Errorf("update %s: signal missing or not %s", path, value.Type())
	}
	return nil
}

// UpdateVehicleSpeed sets the speed in km/h.
func (v *Vehicle) UpdateVehicleSpeed(speed float32) error {
	if err := v.update(PathSpeed, proto.FloatValue(speed)); err != nil {
		return err
	}
	slog.Debug("Vehicle speed updated", "km_h", speed)
	return nil
}

func (v *Vehicle) UpdateEngineRPM(rpm uint32) error {
	if err := v.update(PathEngineRPM, proto.Uint32Value(rpm)); err != nil {
		return err
	}
	slog.Debug("Engine RPM updated", "rpm", rpm)
	return nil
}

// UpdateVehiclePosition sets the three position axes in metres. Each axis is
// a separate write.
func (v *Vehicle) UpdateVehiclePosition(x, y, z float32) error {
	for _, axis := range []struct {
		path  string
		value float32
	}{{PathPositionX, x}, {PathPositionY, y}, {PathPositionZ, z}} {
		if err := v.update(axis.path, proto.FloatValue(axis.value)); err != nil {
			return err
		}
	}
	slog.Debug("Vehicle position updated", "x", x, "y", y, "z", z)
	return nil
}

// UpdateVehicleOrientation sets the yaw in degrees.
func (v *Vehicle) UpdateVehicleOrientation(yaw float32) error {
	if err := v.update(PathOrientation, proto.FloatValue(yaw)); err != nil {
		return err
	}
	slog.Debug("Vehicle orientation updated", "yaw", yaw)
	return nil
}

func (v *Vehicle) ToggleHeadlights(on bool) error {
	if err := v.update(PathHeadlights, proto.BoolValue(on)); err != nil {
		return err
	}
	slog.Info("Headlights toggled", "on", on)
	return nil
}

// ToggleDoor opens or closes the door signal at doorPath.
func (v *Vehicle) ToggleDoor(doorPath string, open bool) error {
	if err := v.update(doorPath, proto.BoolValue(open)); err != nil {
		return err
	}
	slog.Info("Door toggled", "path", doorPath, "open", open)
	return nil
}
