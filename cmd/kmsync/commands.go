package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kmsync/kmsync/pkg/digest"
)

var startSessionCmd = &cobra.Command{
	Use:   "start-session",
	Short: "Start a new session, sealing a baseline checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		s, err := m.StartSession()
		if err != nil {
			return err
		}
		fmt.Printf("session %s started for %s\n", s.ID, s.ManagedRoot)
		return nil
	},
}

var (
	checkpointComponentName string
	checkpointComponentID   string

	createCheckpointCmd = &cobra.Command{
		Use:   "create-checkpoint <session_id>",
		Short: "Scan and seal a new checkpoint for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			c, err := m.CreateCheckpoint(args[0], checkpointComponentName, checkpointComponentID)
			if err != nil {
				return err
			}
			fmt.Printf("checkpoint %s sealed: sequence=%d added=%d modified=%d deleted=%d total=%s\n",
				c.ID, c.Sequence, len(c.Added), len(c.Modified), len(c.Deleted), digest.FormatBytes(c.TotalSizeBytes))
			return nil
		},
	}
)

func init() {
	createCheckpointCmd.Flags().StringVar(&checkpointComponentName, "component-name", "", "human-readable component name")
	createCheckpointCmd.Flags().StringVar(&checkpointComponentID, "component-id", "", "stable component identifier")
}

var restoreCmd = &cobra.Command{
	Use:   "restore <checkpoint_id>",
	Short: "Restore the managed root to a checkpoint's recorded state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := m.RestoreCheckpoint(args[0]); err != nil {
			return err
		}
		fmt.Printf("restored checkpoint %s\n", args[0])
		return nil
	},
}

var listSessionsCmd = &cobra.Command{
	Use:   "list-sessions",
	Short: "List every session known to this managed root",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		sessions, err := m.ListSessions()
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s\t%s\tcheckpoints=%d\tstarted=%s\n", s.ID, s.State, s.CheckpointCount, s.StartedUTC.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list-checkpoints <session_id>",
	Short: "List every checkpoint sealed for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		checkpoints, err := m.ListCheckpoints(args[0])
		if err != nil {
			return err
		}
		for _, c := range checkpoints {
			fmt.Printf("%d\t%s\t%s\tanchor=%v\tadded=%d\tmodified=%d\tdeleted=%d\n",
				c.Sequence, c.ID, c.ComponentName, c.IsAnchor, c.AddedCount, c.ModifiedCount, c.DeletedCount)
		}
		return nil
	},
}

var validateCheckpointCmd = &cobra.Command{
	Use:   "validate-checkpoint <checkpoint_id>",
	Short: "Validate that a checkpoint's referenced objects exist and reconstruct",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		ok, errs := m.ValidateCheckpoint(args[0])
		if ok {
			fmt.Println("ok")
			return nil
		}
		for _, e := range errs {
			fmt.Println(e)
		}
		return fmt.Errorf("checkpoint %s failed validation with %d error(s)", args[0], len(errs))
	},
}

var validateSessionCmd = &cobra.Command{
	Use:   "validate-session <session_id>",
	Short: "Validate every checkpoint sealed for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		ok, results := m.ValidateSession(args[0])
		if ok {
			fmt.Println("ok")
			return nil
		}
		for checkpointID, errs := range results {
			fmt.Printf("%s:\n", checkpointID)
			for _, e := range errs {
				fmt.Printf("  %v\n", e)
			}
		}
		return fmt.Errorf("session %s failed validation", args[0])
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim CAS and delta objects unreachable from any live session",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		removed, err := m.GarbageCollect()
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d object(s)\n", removed)
		return nil
	},
}

var (
	completeSessionDiscard bool

	completeSessionCmd = &cobra.Command{
		Use:   "complete-session <session_id>",
		Short: "Mark a session completed, keeping or discarding its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := m.CompleteSession(args[0], !completeSessionDiscard); err != nil {
				return err
			}
			fmt.Printf("session %s completed\n", args[0])
			return nil
		},
	}
)

func init() {
	completeSessionCmd.Flags().BoolVar(&completeSessionDiscard, "discard", false, "discard checkpoints instead of keeping them")
}

var deleteSessionCmd = &cobra.Command{
	Use:   "delete-session <session_id>",
	Short: "Delete every manifest and metadata for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := m.DeleteSession(args[0]); err != nil {
			return err
		}
		fmt.Printf("session %s deleted\n", args[0])
		return nil
	},
}
