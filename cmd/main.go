package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eco-drive-assistant/internal/api"
	"eco-drive-assistant/internal/assistant"
	"eco-drive-assistant/internal/config"
	"eco-drive-assistant/internal/db"
	"eco-drive-assistant/internal/display"
	"eco-drive-assistant/internal/gps"
	"eco-drive-assistant/internal/gsi"
	"eco-drive-assistant/internal/models"
	"eco-drive-assistant/internal/obd"
	"eco-drive-assistant/internal/parser"
	"eco-drive-assistant/internal/performance"
	"eco-drive-assistant/internal/remote"
	"eco-drive-assistant/internal/speedlimit"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfg      *config.Config
	dbPath   string
	database *db.Database
)

func main() {
	cfg = config.Load()

	rootCmd := &cobra.Command{
		Use:   "eco-drive",
		Short: "Eco-Drive Assistant - in-car eco-driving feedback",
		Long: `Reads the vehicle over OBD-II, shows a gear shift indicator and scores
how economically the car is driven over a rolling 30 day window. Drives are
stored in SQLite and can be inspected through the CLI or the REST API.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "Path to SQLite database")

	// Add commands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(tripCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.Open(dbPath, cfg.MigrationsDir)
	return err
}

// openSource connects to the vehicle the configured way
func openSource(ctx context.Context) (obd.Source, error) {
	switch cfg.OBDMode {
	case config.ModeSerial:
		adapter, err := obd.OpenELM327(ctx, cfg.OBDPort, obd.PortOptions{BaudRate: cfg.OBDBaud})
		if err != nil {
			return nil, err
		}
		return obd.NewQuerySource(adapter), nil
	case config.ModeEmulated:
		client, err := obd.DialEmulator(ctx, cfg.OBDEmulatorAddr)
		if err != nil {
			return nil, err
		}
		return obd.NewQuerySource(client), nil
	case config.ModeReplay:
		return obd.OpenReplay(cfg.OBDReplayFile)
	}
	return nil, fmt.Errorf("unknown OBD mode %q", cfg.OBDMode)
}

// runCmd runs the in-car assistant until the vehicle disconnects
func runCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the in-car assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			settings, err := config.LoadSettings(cfg.SettingsFile)
			if err != nil {
				return err
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source, err := openSource(ctx)
			if err != nil {
				return fmt.Errorf("vehicle connection error: %w", err)
			}
			defer source.Close()

			trip, err := database.CurrentTrip(time.Now(), settings.Load)
			if err != nil {
				return fmt.Errorf("failed to start trip: %w", err)
			}
			predictor := gsi.NewPredictor(settings.VehicleSpecs, trip.Context, settings.GSIConfig())

			deps := assistant.Deps{
				Source: source,
				Store:  database,
				Remote: remote.NewClient(cfg.APIURL, cfg.APIToken),
			}

			if route, err := gps.LoadRoute(cfg.GPSFile); err != nil {
				log.Printf("GPS disabled: %v", err)
			} else {
				deps.GPS = gps.NewReceiver(route)
			}

			if limits := speedlimit.NewClient(cfg.MapboxURL, cfg.MapboxAccessToken); limits.Enabled() {
				deps.Limits = limits
			} else {
				log.Println("Speed limits disabled: MAPBOX_ACCESS_TOKEN not set")
			}

			g, gctx := errgroup.WithContext(ctx)

			if cfg.MQTTBroker != "" {
				client, err := display.Connect(display.ClientConfig{
					Broker:   cfg.MQTTBroker,
					ClientID: cfg.MQTTClientID,
					Username: cfg.MQTTUsername,
					Password: cfg.MQTTPassword,
				})
				if err != nil {
					return err
				}
				defer client.Disconnect(250)

				publisher := display.NewPublisher(client, cfg.MQTTTopicDisplay)
				deps.Display = publisher
				g.Go(func() error {
					publisher.Start(gctx)
					return nil
				})
			} else {
				deps.Display = &display.LogDisplay{}
			}

			a := assistant.New(deps, trip, predictor, assistant.DefaultOptions())

			if listen != "" {
				server := &http.Server{
					Addr:    listen,
					Handler: api.NewServer(database, a).Router(),
				}
				g.Go(func() error {
					fmt.Printf("   API listening on http://localhost%s\n", listen)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
			}

			fmt.Printf("🚗 Eco-Drive Assistant\n")
			fmt.Printf("   Trip:     %s\n", trip.ID)
			fmt.Printf("   Vehicle:  %s\n", cfg.OBDMode)
			fmt.Printf("   Database: %s\n\n", dbPath)

			g.Go(func() error {
				// The drive ending stops the publisher and the API.
				defer stop()
				return a.Run(gctx)
			})

			if err := g.Wait(); err != nil {
				return err
			}

			if score := a.Score(); score != nil {
				fmt.Printf("\n✓ Trip %s recorded, eco-driving score %d\n", trip.ID, *score)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Also serve the REST API on this address (e.g. :8080)")
	return cmd
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			server := api.NewServer(database, nil)

			fmt.Printf("🚀 Eco-Drive API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", dbPath)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /api/v1/trips")
			fmt.Println("  GET  /api/v1/trips/{id}")
			fmt.Println("  GET  /api/v1/trips/{id}/samples")
			fmt.Println("  GET  /api/v1/trips/{id}/performance")
			fmt.Println("  GET  /api/v1/samples")
			fmt.Println("  POST /api/v1/samples")
			fmt.Println("  POST /api/v1/samples/batch")
			fmt.Println("  GET  /api/v1/feedback?days=30")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", cfg.ListenAddr, "Listen address")
	return cmd
}

// ingestCmd stores recorded drives, one trip per file
func ingestCmd() *cobra.Command {
	var format string
	var validate bool
	var load models.TripContext

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest recorded drives from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				f := format
				if f == "" {
					f = parser.FormatFromPath(file)
				}
				records, err := parser.NewParser(f).ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				// Validate if requested
				if validate {
					var valid []models.TelemetrySample
					for _, r := range records {
						if errs := parser.ValidateSample(&r); len(errs) == 0 {
							valid = append(valid, r)
						} else {
							totalErrors++
						}
					}
					records = valid
				}

				if len(records) == 0 {
					fmt.Println("  No samples, skipped")
					continue
				}

				trip, err := database.CreateTrip(load, records[0].Timestamp)
				if err != nil {
					fmt.Printf("  Database error: %v\n", err)
					continue
				}
				for i := range records {
					records[i].TripID = trip.ID
				}

				count, err := database.InsertSamples(records)
				if err != nil {
					fmt.Printf("  Database error: %v\n", err)
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  ✓ Trip %s: inserted %d samples in %v (%.0f samples/sec)\n",
					trip.ID, count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += int(count)
			}

			fmt.Printf("\nTotal: %d samples ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "File format (csv, json, log); guessed from the extension when empty")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate samples before inserting")
	cmd.Flags().IntVar(&load.Passengers, "passengers", 0, "Passengers carried, excluding the driver")
	cmd.Flags().Float64Var(&load.Cargo, "cargo", 0, "Cargo carried in kg")
	return cmd
}

// queryCmd queries stored samples
func queryCmd() *cobra.Command {
	var tripID string
	var startTime string
	var endTime string
	var limit int
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q := models.SampleQuery{
				TripID: tripID,
				Limit:  limit,
			}

			if startTime != "" {
				t, err := time.Parse(time.RFC3339, startTime)
				if err != nil {
					return fmt.Errorf("invalid start_time format (use RFC3339): %w", err)
				}
				q.StartTime = t
			}

			if endTime != "" {
				t, err := time.Parse(time.RFC3339, endTime)
				if err != nil {
					return fmt.Errorf("invalid end_time format (use RFC3339): %w", err)
				}
				q.EndTime = t
			}

			start := time.Now()
			results, err := database.QuerySamples(q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			case "csv":
				return parser.WriteCSV(os.Stdout, results)
			default:
				fmt.Printf("Found %d samples (query time: %v)\n\n", len(results), elapsed)
				for _, r := range results {
					fmt.Printf("[%s] Trip: %.8s | Pos: %.6f,%.6f | Speed: %.1f km/h | RPM: %.0f | Throttle: %.0f%%\n",
						r.Timestamp.Format("2006-01-02 15:04:05"),
						r.TripID, r.Latitude, r.Longitude,
						r.Speed, r.EngineRPM, r.Throttle)
					if r.GSIIndicating != nil && *r.GSIIndicating {
						fmt.Printf("     ⬆️  Shift up indicated\n")
					}
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&tripID, "trip", "t", "", "Filter by trip ID")
	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Start time (RFC3339)")
	cmd.Flags().StringVarP(&endTime, "end", "e", "", "End time (RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum samples to return")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, csv)")
	return cmd
}

// tripCmd inspects recorded trips
func tripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trip",
		Short: "Trip commands",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			trips, err := database.ListTrips(limit)
			if err != nil {
				return fmt.Errorf("error listing trips: %w", err)
			}

			if len(trips) == 0 {
				fmt.Println("No trips found. Use 'eco-drive generate' to create sample data.")
				return nil
			}

			fmt.Printf("%-36s  %-19s  %-10s  %-8s  %s\n", "ID", "Created", "Passengers", "Cargo", "Uploaded")
			for _, t := range trips {
				uploaded := "-"
				if t.RemoteID != "" {
					uploaded = t.RemoteID
				}
				fmt.Printf("%-36s  %-19s  %-10d  %-8.0f  %s\n",
					t.ID, t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Context.Passengers, t.Context.Cargo, uploaded)
			}

			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum trips to list")

	showCmd := &cobra.Command{
		Use:   "show [trip_id]",
		Short: "Show the driving statistics of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			if _, err := database.GetTrip(args[0]); err != nil {
				return fmt.Errorf("error getting trip: %w", err)
			}

			start := time.Now()
			samples, err := database.TripSamples(args[0])
			if err != nil {
				return fmt.Errorf("error getting samples: %w", err)
			}
			t := performance.NewTripPerformance(args[0], samples)
			elapsed := time.Since(start)

			fmt.Printf("📈 Trip %s (query: %v)\n", args[0], elapsed)
			fmt.Println("==========================================")
			fmt.Printf("  Samples:          %d\n", len(samples))
			fmt.Printf("  Travel Time:      %.0f s\n", t.TravelTime)
			fmt.Printf("  Distance:         %.2f km\n", t.Distance)
			fmt.Printf("  Idle Time:        %.0f s\n", t.IdleTime)
			fmt.Printf("  Driving Acc:      %v\n", t.DrivAccSmoothness)
			fmt.Printf("  Starting Acc:     %v\n", t.StartAccSmoothness)
			fmt.Printf("  Deceleration:     %v\n", t.DecSmoothness)
			fmt.Printf("  GSI Adherence:    %v\n", t.GSIAdh)
			fmt.Printf("  Speed Limit Adh:  %v\n", t.SpdLimAdh)
			fmt.Printf("  Motorway Speed:   %v\n", t.MotorwaySpd)
			fmt.Printf("  Idle Duration:    %v\n", t.IdleDur)

			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

// feedbackCmd scores the rolling window and optionally uploads it
func feedbackCmd() *cobra.Command {
	var days int
	var upload bool
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Score the eco-driving of recent trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			now := time.Now()
			w, trips, err := performance.LoadFeedbackWindow(database, now, days)
			if err != nil {
				return fmt.Errorf("error scoring trips: %w", err)
			}

			if upload {
				client := remote.NewClient(cfg.APIURL, cfg.APIToken)
				if !client.Enabled() {
					return fmt.Errorf("DEVICE_API_URL is required to upload")
				}
				for _, t := range trips {
					if err := performance.SyncTrip(cmd.Context(), database, client, t); err != nil {
						fmt.Printf("  Error uploading trip %s: %v\n", t.TripID, err)
					}
				}
				if err := performance.SyncScores(cmd.Context(), client, w, now); err != nil {
					return fmt.Errorf("error uploading scores: %w", err)
				}
			}

			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(w.Report(now))
			}

			fmt.Printf("🌱 Eco-Driving Feedback (last %d days)\n", days)
			fmt.Println("=====================================")
			fmt.Printf("  Trips:              %d\n", len(w.TripIDs))
			fmt.Printf("  Samples:            %d\n", w.SampleCount)
			fmt.Printf("  Eco-Driving Score:  %d (plant stage %d)\n", w.EcoDriving, performance.Tier(w.EcoDriving))
			for _, f := range performance.Factors() {
				score := "-"
				if s := w.FactorScore(f); s != nil {
					score = fmt.Sprint(*s)
				}
				fmt.Printf("  %-20s%s\n", f.String()+":", score)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", performance.DefaultWindowDays, "Length of the window in days")
	cmd.Flags().BoolVarP(&upload, "upload", "u", false, "Upload trips and scores to the remote API")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 Eco-Drive Statistics")
			fmt.Println("=====================================")
			fmt.Printf("  Trips:           %v\n", stats["total_trips"])
			fmt.Printf("  Uploaded Trips:  %v\n", stats["uploaded_trips"])
			fmt.Printf("  Samples:         %v\n", stats["total_samples"])
			fmt.Printf("  Database:        %s\n", dbPath)

			return nil
		},
	}
}

// generateCmd generates a simulated drive
func generateCmd() *cobra.Command {
	var startTime string
	var interval time.Duration
	var altitude float64
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a simulated drive",
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().Add(-time.Hour)
			if startTime != "" {
				t, err := time.Parse(time.RFC3339, startTime)
				if err != nil {
					return fmt.Errorf("invalid start format (use RFC3339): %w", err)
				}
				start = t
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}

			samples := obd.Simulate(start, interval, altitude, obd.UrbanCycle)
			if len(samples) == 0 {
				return fmt.Errorf("interval too long for the drive cycle")
			}
			off := samples[len(samples)-1]
			off.Timestamp = off.Timestamp.Add(interval)
			off.EngineOn = false
			samples = append(samples, off)

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				if err := parser.WriteCSV(file, samples); err != nil {
					return err
				}
				fmt.Printf("✓ Wrote %d samples to %s\n", len(samples), output)
				return nil
			}

			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			trip, err := database.CreateTrip(models.TripContext{}, start)
			if err != nil {
				return err
			}
			for i := range samples {
				samples[i].TripID = trip.ID
			}

			began := time.Now()
			inserted, err := database.InsertSamples(samples)
			if err != nil {
				return err
			}

			elapsed := time.Since(began)
			fmt.Printf("✓ Generated trip %s with %d samples in %v\n", trip.ID, inserted, elapsed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&startTime, "start", "s", "", "Start time of the drive (RFC3339), default an hour ago")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Sample interval")
	cmd.Flags().Float64Var(&altitude, "altitude", 100, "Starting altitude in metres")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the drive to a CSV file instead of the database")
	return cmd
}

// migrateCmd manages the database schema
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema commands",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the database applies pending migrations.
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			return printVersion()
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			if err := database.MigrateDown(cfg.MigrationsDir); err != nil {
				return err
			}
			return printVersion()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()
			return printVersion()
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func printVersion() error {
	version, dirty, err := database.MigrateVersion(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d", version)
	if dirty {
		fmt.Print(" (dirty)")
	}
	fmt.Println()
	return nil
}
