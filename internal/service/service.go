// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-location/internal/config"
	"github.com/wneessen/waybar-location/internal/engine"
	"github.com/wneessen/waybar-location/internal/location"
	"github.com/wneessen/waybar-location/internal/logger"
	"github.com/wneessen/waybar-location/internal/presenter"
	"github.com/wneessen/waybar-location/internal/publish"
	"github.com/wneessen/waybar-location/internal/publish/mqtt"
	"github.com/wneessen/waybar-location/internal/publish/websocket"
)

const (
	OutputClass       = "waybar-location"
	displayBuffer     = 8
	publishTimeout    = time.Second * 5
	displayQueryLimit = time.Second * 2
)

type outputData struct {
	Text    string   `json:"text"`
	Alt     string   `json:"alt"`
	Tooltip string   `json:"tooltip"`
	Classes []string `json:"class"`
}

type publisher interface {
	Publish(ctx context.Context, payload publish.Payload) error
}

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	engine    *engine.Engine
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	SignalSrc signalSource

	// watches for system resume, replaced in tests
	sleepMonitor func(context.Context)

	mqtt       *mqtt.Publisher
	hub        *websocket.Hub
	publishers []publisher

	outputLock sync.Mutex
	output     io.Writer
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	pres, err := presenter.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	service := &Service{
		config:    conf,
		logger:    log,
		t:         t,
		presenter: pres,
		scheduler: scheduler,
		SignalSrc: stdLibSignalSource{},
		output:    os.Stdout,
	}
	service.sleepMonitor = service.monitorSleepResume

	providers, err := service.selectLocationProviders()
	if err != nil {
		return nil, fmt.Errorf("failed to select location providers: %w", err)
	}
	source, err := location.NewOrchestrator(log, providers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create location orchestrator: %w", err)
	}
	coder, err := service.selectGeocodeProvider(conf, log, t.Language())
	if err != nil {
		return nil, fmt.Errorf("failed to create geocode provider: %w", err)
	}
	service.engine = engine.New(source, coder, log, refinementSettings(conf), conf.Geocoder.Timeout)

	if conf.MQTT.Broker != "" {
		service.mqtt = mqtt.New(mqtt.Config{
			Broker:       conf.MQTT.Broker,
			Topic:        conf.MQTT.Topic,
			CommandTopic: conf.MQTT.CommandTopic,
			ClientID:     conf.MQTT.ClientID,
			Username:     conf.MQTT.Username,
			Password:     conf.MQTT.Password,
		}, service.engine, log)
		service.publishers = append(service.publishers, service.mqtt)
	}
	if conf.WebSocket.Listen != "" {
		service.hub = websocket.NewHub(service.engine, log)
		service.publishers = append(service.publishers, service.hub)
	}

	return service, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printDisplay,
		"display_output_job"); err != nil {
		return err
	}

	go func() {
		if err := s.engine.Run(ctx); err != nil {
			s.logger.Error("location engine failed", logger.Err(err))
		}
	}()
	states, unsubscribe := s.engine.Subscribe(displayBuffer)
	defer unsubscribe()
	go s.processDisplayUpdates(ctx, states)

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1)
	defer s.SignalSrc.Stop(sigChan)
	go s.HandleToggleSignal(ctx, sigChan)
	go s.sleepMonitor(ctx)

	if s.mqtt != nil {
		if err := s.mqtt.Connect(ctx); err != nil {
			s.logger.Error("failed to connect to MQTT broker, retrying in background", logger.Err(err))
		}
		defer s.mqtt.Close()
	}
	if s.hub != nil {
		go func() {
			if err := s.hub.Serve(ctx, s.config.WebSocket.Listen); err != nil {
				s.logger.Error("websocket server failed", logger.Err(err))
			}
		}()
	}

	s.scheduler.Start()
	if s.config.Refinement.AutoStart {
		s.engine.Refresh()
	}

	<-ctx.Done()
	return s.scheduler.Shutdown()
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printDisplay prints the current display state. It keeps the module output fresh, the fix age
// in the tooltip changes even when the engine does not.
func (s *Service) printDisplay(ctx context.Context) {
	ctxQuery, cancel := context.WithTimeout(ctx, displayQueryLimit)
	defer cancel()
	ds, err := s.engine.Display(ctxQuery)
	if err != nil {
		s.logger.Error("failed to query display state", logger.Err(err))
		return
	}
	if _, err = s.print(ds); err != nil {
		s.logger.Error("failed to print display state", logger.Err(err))
	}
}

// processDisplayUpdates prints and publishes every display state change.
func (s *Service) processDisplayUpdates(ctx context.Context, states <-chan engine.DisplayState) {
	for {
		select {
		case <-ctx.Done():
			return
		case ds, ok := <-states:
			if !ok {
				return
			}
			s.logger.Debug("display state changed", slog.Bool("refining", ds.Refining),
				slog.Bool("has_fix", ds.HasFix), slog.String("status", ds.Status))
			out, err := s.print(ds)
			if err != nil {
				s.logger.Error("failed to print display state", logger.Err(err))
				continue
			}
			s.publish(ctx, publish.NewPayload(ds, out))
		}
	}
}

func (s *Service) print(ds engine.DisplayState) (presenter.Output, error) {
	out, err := s.presenter.Render(ds)
	if err != nil {
		return out, err
	}
	output := outputData{
		Text:    out.Text,
		Alt:     out.Alt,
		Tooltip: out.Tooltip,
		Classes: []string{OutputClass, out.Class},
	}

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		return out, fmt.Errorf("failed to encode display data: %w", err)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, payload publish.Payload) {
	for _, pub := range s.publishers {
		ctxPublish, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := pub.Publish(ctxPublish, payload); err != nil {
			s.logger.Error("failed to publish display state", logger.Err(err))
		}
		cancel()
	}
}

func refinementSettings(conf *config.Config) engine.Settings {
	return engine.Settings{
		DesiredAccuracy:  conf.Refinement.DesiredAccuracy,
		Timeout:          conf.Refinement.Timeout,
		MaxReadingAge:    conf.Refinement.MaxReadingAge,
		ConvergeDistance: conf.Refinement.ConvergeDistance,
		ConvergeAfter:    conf.Refinement.ConvergeAfter,
	}
}
