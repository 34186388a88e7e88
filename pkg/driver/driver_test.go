package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/events"
	"github.com/charlie0129/mvnd/pkg/types"
)

func newTestDriver(t *testing.T, ft *fakeTransport, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithPollInterval(time.Millisecond), WithClock(newFakeClock(time.Millisecond))}, opts...)
	d, err := New(testConfiguration(), ft, opts...)
	require.NoError(t, err)
	return d
}

func connected(t *testing.T, ft *fakeTransport, opts ...Option) *Driver {
	t.Helper()
	d := newTestDriver(t, ft, opts...)
	require.NoError(t, d.ConfigureAndConnect(context.Background()))
	require.Equal(t, StatusConnected, d.GetStatus())
	return d
}

func calibrated(t *testing.T, ft *fakeTransport, opts ...Option) *Driver {
	t.Helper()
	d := connected(t, ft, opts...)
	q, err := d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, calibration.QualityGood, q)
	require.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())
	return d
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	conf := testConfiguration()
	conf.ScanTimeout = 0
	_, err := New(conf, newFakeTransport())
	assert.Error(t, err)

	conf = testConfiguration()
	conf.BodyDimensions = types.BodyDimensions{"bodyHeight": -1}
	_, err = New(conf, newFakeTransport())
	assert.Error(t, err)

	_, err = New(testConfiguration(), nil)
	assert.Error(t, err)
}

func TestDriverCopiesConfiguration(t *testing.T) {
	conf := testConfiguration()
	conf.BodyDimensions = types.BodyDimensions{"bodyHeight": 1.7}
	d, err := New(conf, newFakeTransport())
	require.NoError(t, err)

	conf.BodyDimensions["bodyHeight"] = 2.5
	assert.Equal(t, 1.7, d.Configuration().BodyDimensions["bodyHeight"])
}

func TestConfigureAndConnect(t *testing.T) {
	ft := newFakeTransport()
	d := connected(t, ft)

	err := d.ConfigureAndConnect(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyConnected), "got %v", err)
	assert.Equal(t, StatusConnected, d.GetStatus())
}

func TestConfigureAndConnectAppliesBodyDimensions(t *testing.T) {
	ft := newFakeTransport()
	conf := testConfiguration()
	conf.BodyDimensions = types.BodyDimensions{"bodyHeight": 1.65}
	d, err := New(conf, ft)
	require.NoError(t, err)

	require.NoError(t, d.ConfigureAndConnect(context.Background()))
	v, err := d.GetBodyDimension("bodyHeight")
	require.NoError(t, err)
	assert.Equal(t, 1.65, v)
}

func TestConfigureAndConnectUnknownConfiguredBodyPart(t *testing.T) {
	ft := newFakeTransport()
	conf := testConfiguration()
	conf.BodyDimensions = types.BodyDimensions{"tailLength": 0.3}
	d, err := New(conf, ft)
	require.NoError(t, err)

	err = d.ConfigureAndConnect(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownBodyPart), "got %v", err)
	assert.Equal(t, StatusDisconnected, d.GetStatus())
	assert.Equal(t, 1, ft.disconnected)
}

func TestConfigureAndConnectTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.neverFound = true
	conf := testConfiguration()
	conf.ScanTimeout = 50 * time.Millisecond
	d, err := New(conf, ft)
	require.NoError(t, err)

	start := time.Now()
	err = d.ConfigureAndConnect(context.Background())
	assert.True(t, errors.Is(err, ErrConnectionTimeout), "got %v", err)
	assert.Equal(t, StatusDisconnected, d.GetStatus())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConfigureAndConnectDefaultTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the default scan timeout")
	}
	ft := newFakeTransport()
	ft.neverFound = true
	conf := testConfiguration()
	conf.ScanTimeout = DefaultScanTimeout
	d, err := New(conf, ft)
	require.NoError(t, err)

	start := time.Now()
	err = d.ConfigureAndConnect(context.Background())
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, ErrConnectionTimeout), "got %v", err)
	assert.Equal(t, StatusDisconnected, d.GetStatus())
	assert.GreaterOrEqual(t, elapsed, DefaultScanTimeout)
	assert.Less(t, elapsed, DefaultScanTimeout+2*time.Second)
}

func TestConfigureAndConnectError(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("usb unplugged")
	d := newTestDriver(t, ft)

	err := d.ConfigureAndConnect(context.Background())
	assert.True(t, errors.Is(err, ErrConnection), "got %v", err)
	assert.Contains(t, err.Error(), "usb unplugged")
	assert.Equal(t, StatusDisconnected, d.GetStatus())
}

func TestTerminateDuringScan(t *testing.T) {
	ft := newFakeTransport()
	ft.neverFound = true
	d := newTestDriver(t, ft)

	done := make(chan error, 1)
	go func() { done <- d.ConfigureAndConnect(context.Background()) }()

	require.Eventually(t, func() bool { return d.GetStatus() == StatusScanning }, time.Second, time.Millisecond)
	d.Terminate()
	assert.Equal(t, StatusDisconnected, d.GetStatus())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConfigureAndConnect did not return after Terminate")
	}
	assert.Equal(t, StatusDisconnected, d.GetStatus())
}

func TestStaleConnectKeepsNewerSession(t *testing.T) {
	ft := newFakeTransport()
	gate := make(chan struct{})
	ft.connectGate = gate
	d := newTestDriver(t, ft)

	connectCalls := func() int {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.connectCalls
	}

	stale := make(chan error, 1)
	go func() { stale <- d.ConfigureAndConnect(context.Background()) }()
	require.Eventually(t, func() bool { return connectCalls() == 1 }, time.Second, time.Millisecond)

	d.Terminate()
	require.Equal(t, StatusDisconnected, d.GetStatus())

	fresh := make(chan error, 1)
	go func() { fresh <- d.ConfigureAndConnect(context.Background()) }()
	require.Eventually(t, func() bool { return connectCalls() == 2 }, time.Second, time.Millisecond)

	ft.mu.Lock()
	disconnects := ft.disconnected
	ft.mu.Unlock()
	close(gate)

	wait := func(ch chan error) error {
		select {
		case err := <-ch:
			return err
		case <-time.After(time.Second):
			t.Fatal("ConfigureAndConnect did not return")
			return nil
		}
	}
	err := wait(stale)
	assert.True(t, errors.Is(err, ErrConnection), "got %v", err)
	require.NoError(t, wait(fresh))

	assert.Equal(t, StatusConnected, d.GetStatus())
	ft.mu.Lock()
	assert.Equal(t, disconnects, ft.disconnected, "stale connect tore down the newer session")
	ft.mu.Unlock()
}

func TestCalibrate(t *testing.T) {
	ft := newFakeTransport()
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	d := calibrated(t, ft, WithEventHub(hub))
	assert.Equal(t, calibration.QualityGood, d.LastCalibrationQuality())

	var finished *events.CalibrationFinishedEvent
	for finished == nil {
		select {
		case ev := <-ch:
			if ev.Name == events.CalibrationFinished {
				got, err := events.DecodeAs[events.CalibrationFinishedEvent](ev)
				require.NoError(t, err)
				finished = &got
			}
		case <-time.After(time.Second):
			t.Fatal("no calibration event")
		}
	}
	assert.Equal(t, "Npose", finished.Type)
	assert.Equal(t, "good", finished.Quality)
	assert.True(t, finished.Passed)
}

func TestCalibrateBelowMinimum(t *testing.T) {
	ft := newFakeTransport()
	ft.result = calibration.Result{Grade: calibration.QualityUnknown, Residual: 0.08}
	d := connected(t, ft)

	q, err := d.Calibrate(context.Background(), "Tpose")
	require.NoError(t, err)
	assert.Equal(t, calibration.QualityPoor, q)
	assert.Equal(t, StatusConnected, d.GetStatus())

	err = d.StartAcquisition()
	assert.True(t, errors.Is(err, ErrInvalidStateTransition), "got %v", err)
}

func TestCalibrateInvalidType(t *testing.T) {
	ft := newFakeTransport()
	d := connected(t, ft)

	_, err := d.Calibrate(context.Background(), "Handstand")
	assert.True(t, errors.Is(err, ErrInvalidCalibrationType), "got %v", err)
	assert.Equal(t, StatusConnected, d.GetStatus())
	assert.Equal(t, 0, ft.startCount)
}

func TestCalibrateWhileDisconnected(t *testing.T) {
	d := newTestDriver(t, newFakeTransport())

	_, err := d.Calibrate(context.Background(), "Npose")
	assert.True(t, errors.Is(err, ErrInvalidStateTransition), "got %v", err)
}

func TestAbortCalibration(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)
	ft.set(func(f *fakeTransport) { f.blockCal = true })

	done := make(chan error, 1)
	go func() {
		_, err := d.Calibrate(context.Background(), "Npose")
		done <- err
	}()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusCalibrating }, time.Second, time.Millisecond)

	require.NoError(t, d.AbortCalibration())
	assert.Equal(t, StatusConnected, d.GetStatus())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrCalibrationAborted), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("Calibrate did not return after abort")
	}
	assert.Equal(t, StatusConnected, d.GetStatus())
	assert.Equal(t, calibration.QualityGood, d.LastCalibrationQuality())

	err := d.AbortCalibration()
	assert.True(t, errors.Is(err, ErrNotCalibrating), "got %v", err)
}

func TestRecalibrationTransportErrorKeepsCalibration(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)
	ft.set(func(f *fakeTransport) { f.resultErr = errors.New("sensor link lost") })

	_, err := d.Calibrate(context.Background(), "Npose")
	assert.Error(t, err)
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())
	assert.Equal(t, calibration.QualityGood, d.LastCalibrationQuality())
	assert.Len(t, ft.cancelled, 1)
}

func TestCalibrateContextCancelled(t *testing.T) {
	ft := newFakeTransport()
	ft.blockCal = true
	d := connected(t, ft)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Calibrate(ctx, "Npose")

	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, StatusConnected, d.GetStatus())
}

func TestMinimumCalibrationQuality(t *testing.T) {
	ft := newFakeTransport()
	ft.result = calibration.Result{Grade: calibration.QualityAcceptable}
	d := connected(t, ft)

	require.NoError(t, d.SetMinimumAcceptableCalibrationQuality(calibration.QualityGood))
	assert.Equal(t, calibration.QualityGood, d.GetMinimumAcceptableCalibrationQuality())

	q, err := d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, calibration.QualityAcceptable, q)
	assert.Equal(t, StatusConnected, d.GetStatus())

	err = d.SetMinimumAcceptableCalibrationQuality(calibration.QualityUnknown)
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)

	require.NoError(t, d.SetMinimumAcceptableCalibrationQuality(calibration.QualityPoor))
	_, err = d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())

	require.NoError(t, d.StartAcquisition())
	err = d.SetMinimumAcceptableCalibrationQuality(calibration.QualityGood)
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)
}

func TestRaisingMinimumRequiresRecalibration(t *testing.T) {
	ft := newFakeTransport()
	ft.result = calibration.Result{Grade: calibration.QualityPoor}
	d := connected(t, ft)

	require.NoError(t, d.SetMinimumAcceptableCalibrationQuality(calibration.QualityPoor))
	_, err := d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())

	// Lowering or keeping the minimum leaves the driver ready.
	require.NoError(t, d.SetMinimumAcceptableCalibrationQuality(calibration.QualityPoor))
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())

	require.NoError(t, d.SetMinimumAcceptableCalibrationQuality(calibration.QualityGood))
	assert.Equal(t, StatusConnected, d.GetStatus())
	assert.Equal(t, calibration.QualityPoor, d.LastCalibrationQuality())

	err = d.StartAcquisition()
	assert.True(t, errors.Is(err, ErrInvalidStateTransition), "got %v", err)
	assert.False(t, d.PipelineStats().Running)

	ft.set(func(f *fakeTransport) { f.result = calibration.Result{Grade: calibration.QualityGood} })
	_, err = d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())
	require.NoError(t, d.StartAcquisition())
}

func TestAcquisition(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)

	require.NoError(t, d.StartAcquisition())
	assert.Equal(t, StatusRecording, d.GetStatus())
	assert.NotEmpty(t, d.AcquisitionRunID())

	require.True(t, ft.push(ft.frame(3)))
	d.CacheData()

	s := d.GetDataSample()
	assert.Equal(t, "suit-1", s.SuitName)
	assert.Equal(t, "suit-1", d.GetSuitName())
	assert.Equal(t, []string{"Pelvis", "Head"}, d.GetSuitLinkLabels())
	assert.Equal(t, []string{"Pelvis"}, d.GetSuitSensorLabels())
	assert.Equal(t, []string{"jL5S1"}, d.GetSuitJointLabels())
	assert.Len(t, d.GetLinkDataSample(), 2)
	assert.Len(t, d.GetSensorDataSample(), 1)
	assert.Len(t, d.GetJointDataSample(), 1)
	assert.Greater(t, d.GetSampleRelativeTime(), 0.0)
	assert.Greater(t, d.GetSampleAbsoluteTime(), 0.0)

	require.NoError(t, d.StopAcquisition())
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())
	assert.Empty(t, d.AcquisitionRunID())
	assert.False(t, ft.push(ft.frame(4)))

	// The snapshot survives stopping.
	d.CacheData()
	assert.Equal(t, types.Vector3{3, 3, 3}, d.GetJointDataSample()[0].JointAngles)

	err := d.StopAcquisition()
	assert.True(t, errors.Is(err, ErrInvalidStateTransition), "got %v", err)
}

func TestAccessorsBeforeFirstSample(t *testing.T) {
	d := newTestDriver(t, newFakeTransport())
	d.CacheData()

	s := d.GetDataSample()
	assert.NotNil(t, s.Links)
	assert.Empty(t, s.Links)
	assert.Empty(t, d.GetSuitName())
	assert.Empty(t, d.GetSuitLinkLabels())
	assert.Equal(t, 0.0, d.GetSampleRelativeTime())
}

func TestRestartedAcquisitionTagsSamples(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)

	require.NoError(t, d.StartAcquisition())
	first := d.AcquisitionRunID()
	require.True(t, ft.push(ft.frame(1)))
	d.CacheData()
	assert.Equal(t, first, d.GetDataSample().RunID)
	require.NoError(t, d.StopAcquisition())

	require.NoError(t, d.StartAcquisition())
	second := d.AcquisitionRunID()
	require.NotEqual(t, first, second)

	// No frame of the new run yet.
	d.CacheData()
	assert.Equal(t, first, d.GetDataSample().RunID)

	require.True(t, ft.push(ft.frame(2)))
	d.CacheData()
	assert.Equal(t, second, d.GetDataSample().RunID)
}

func TestLabelsFallBackToSuitModel(t *testing.T) {
	ft := newFakeTransport()
	conf := testConfiguration()
	conf.DataStreamConfig.EnableLinkData = false
	d, err := New(conf, ft, WithPollInterval(time.Millisecond), WithClock(newFakeClock(time.Millisecond)))
	require.NoError(t, err)

	require.NoError(t, d.ConfigureAndConnect(context.Background()))
	assert.Equal(t, []string{"Pelvis", "Head"}, d.GetSuitLinkLabels())
	assert.Equal(t, []string{"jL5S1"}, d.GetSuitJointLabels())

	_, err = d.Calibrate(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, d.StartAcquisition())
	require.True(t, ft.push(ft.frame(1)))
	d.CacheData()

	assert.Empty(t, d.GetLinkDataSample())
	assert.Equal(t, []string{"Pelvis", "Head"}, d.GetSuitLinkLabels())
	assert.Equal(t, []string{"Pelvis"}, d.GetSuitSensorLabels())

	labels := d.GetSuitLinkLabels()
	labels[0] = "changed"
	assert.Equal(t, []string{"Pelvis", "Head"}, d.GetSuitLinkLabels())

	d.Terminate()
	assert.Empty(t, d.GetSuitLinkLabels())
}

func TestStartAcquisitionStreamingError(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)
	ft.set(func(f *fakeTransport) { f.streamErr = errors.New("busy") })

	err := d.StartAcquisition()
	assert.True(t, errors.Is(err, ErrConnection), "got %v", err)
	assert.Equal(t, StatusCalibratedAndReadyToRecord, d.GetStatus())
	assert.False(t, d.PipelineStats().Running)
}

func TestSnapshotStableUntilCacheData(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)
	require.NoError(t, d.StartAcquisition())

	ft.push(ft.frame(1))
	d.CacheData()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 2; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			ft.push(ft.frame(float64(i)))
		}
	}()

	for i := 0; i < 200; i++ {
		assert.Equal(t, types.Vector3{1, 1, 1}, d.GetJointDataSample()[0].JointAngles)
		assert.Equal(t, types.Vector3{1, 1, 1}, d.GetLinkDataSample()[1].Position)
	}
	close(stop)
	wg.Wait()

	ft.push(ft.frame(1000))
	d.CacheData()
	assert.Equal(t, types.Vector3{1000, 1000, 1000}, d.GetJointDataSample()[0].JointAngles)
}

func TestBodyDimensions(t *testing.T) {
	ft := newFakeTransport()
	d := newTestDriver(t, ft)

	_, err := d.GetBodyDimensions()
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)

	require.NoError(t, d.ConfigureAndConnect(context.Background()))

	require.NoError(t, d.SetBodyDimensions(types.BodyDimensions{"footSize": 0.29}))
	v, err := d.GetBodyDimension("footSize")
	require.NoError(t, err)
	assert.Equal(t, 0.29, v)

	err = d.SetBodyDimensions(types.BodyDimensions{"wingSpan": 2})
	assert.True(t, errors.Is(err, ErrUnknownBodyPart), "got %v", err)

	err = d.SetBodyDimensions(types.BodyDimensions{"footSize": 0})
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)

	_, err = d.GetBodyDimension("wingSpan")
	assert.True(t, errors.Is(err, ErrUnknownBodyPart), "got %v", err)

	dims, err := d.GetBodyDimensions()
	require.NoError(t, err)
	dims["footSize"] = 1
	v, _ = d.GetBodyDimension("footSize")
	assert.Equal(t, 0.29, v)
}

func TestBodyDimensionsWhileRecording(t *testing.T) {
	ft := newFakeTransport()
	d := calibrated(t, ft)
	require.NoError(t, d.StartAcquisition())

	err := d.SetBodyDimensions(types.BodyDimensions{"footSize": 0.3})
	assert.True(t, errors.Is(err, ErrInvalidOperation), "got %v", err)
	v, err := d.GetBodyDimension("footSize")
	require.NoError(t, err)
	assert.Equal(t, 0.27, v)
}

func TestTerminateFromEveryState(t *testing.T) {
	setups := map[Status]func(t *testing.T, ft *fakeTransport) *Driver{
		StatusDisconnected: func(t *testing.T, ft *fakeTransport) *Driver { return newTestDriver(t, ft) },
		StatusConnected: func(t *testing.T, ft *fakeTransport) *Driver {
			return connected(t, ft)
		},
		StatusCalibratedAndReadyToRecord: func(t *testing.T, ft *fakeTransport) *Driver {
			return calibrated(t, ft)
		},
		StatusRecording: func(t *testing.T, ft *fakeTransport) *Driver {
			d := calibrated(t, ft)
			require.NoError(t, d.StartAcquisition())
			return d
		},
	}

	for st, setup := range setups {
		t.Run(st.String(), func(t *testing.T) {
			ft := newFakeTransport()
			d := setup(t, ft)

			d.Terminate()
			assert.Equal(t, StatusDisconnected, d.GetStatus())
			assert.False(t, d.PipelineStats().Running)

			// Idempotent.
			d.Terminate()
			assert.Equal(t, StatusDisconnected, d.GetStatus())

			require.NoError(t, d.ConfigureAndConnect(context.Background()))
			assert.Equal(t, StatusConnected, d.GetStatus())
		})
	}
}

func TestTerminateDuringCalibration(t *testing.T) {
	ft := newFakeTransport()
	ft.blockCal = true
	d := connected(t, ft)

	done := make(chan error, 1)
	go func() {
		_, err := d.Calibrate(context.Background(), "Npose")
		done <- err
	}()
	require.Eventually(t, func() bool { return d.GetStatus() == StatusCalibrating }, time.Second, time.Millisecond)

	d.Terminate()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrCalibrationAborted), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("Calibrate did not return after Terminate")
	}
	assert.Equal(t, StatusDisconnected, d.GetStatus())
}

func TestStatusEvents(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	d := connected(t, newFakeTransport(), WithEventHub(hub))
	d.Terminate()

	var got []string
	for len(got) < 3 {
		select {
		case ev := <-ch:
			if ev.Name != events.StatusChanged {
				continue
			}
			sc, err := events.DecodeAs[events.StatusChangedEvent](ev)
			require.NoError(t, err)
			got = append(got, sc.From+">"+sc.To)
		case <-time.After(time.Second):
			t.Fatalf("missing status events, got %v", got)
		}
	}
	assert.Equal(t, []string{
		"Disconnected>Scanning",
		"Scanning>Connected",
		"Connected>Disconnected",
	}, got)
}
