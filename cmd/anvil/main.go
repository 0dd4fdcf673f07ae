package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/hypervisor"
	"github.com/jbweber/anvil/internal/image"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/probe"
	"github.com/jbweber/anvil/internal/reconcile"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagCheck     bool
	flagOutput    string
	flagNoHeaders bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - declarative libvirt VM reconciler",
	Long: `Anvil reconciles libvirt VMs toward a declared state.

A VM manifest declares what should exist (disk, network, cloud-init, and a
desired state of present, started, stopped, or absent); anvil observes what
actually exists on the host and performs only the actions needed to close
the gap. Applying the same manifest twice changes nothing.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	applyCmd.Flags().BoolVar(&flagCheck, "check", false, "report what would change without doing it")
	applyCmd.Flags().StringVarP(&flagOutput, "output", "o", "table", "output format (table, yaml, json)")
	destroyCmd.Flags().StringVarP(&flagOutput, "output", "o", "table", "output format (table, yaml, json)")
	statusCmd.Flags().StringVarP(&flagOutput, "output", "o", "table", "output format (table, yaml, json)")
	listCmd.Flags().StringVarP(&flagOutput, "output", "o", "table", "output format (table, yaml, json)")
	listCmd.Flags().BoolVar(&flagNoHeaders, "no-headers", false, "omit table headers")

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(testConnCmd)
}

// connect opens the libvirt connection used by all commands.
func connect(ctx context.Context) (*anvillibvirt.Client, error) {
	client, err := anvillibvirt.ConnectWithContext(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return client, nil
}

// newReconciler wires a reconciler against one libvirt connection.
func newReconciler(client *anvillibvirt.Client, dryRun bool) *reconcile.Reconciler {
	provisioner, err := image.NewProvisioner()
	if err != nil {
		// No qemu user on this host; created files keep the invoking
		// user's ownership.
		log.Printf("Warning: %v, disk images will not be chowned", err)
		provisioner = image.NewProvisionerWithOwner(-1, -1)
	}

	driver := hypervisor.NewDriver(client.Libvirt())
	prober := probe.NewProber(client.Libvirt())

	r := reconcile.New(driver, prober, provisioner)
	r.DryRun = dryRun
	return r
}

// printOutcome renders the outcome and surfaces its failure as the command
// error so the exit code reflects it.
func printOutcome(outcome reconcile.Outcome) error {
	formatter, err := output.NewFormatter(output.Options{Format: output.Format(flagOutput)})
	if err != nil {
		return err
	}

	rendered, err := formatter.FormatOutcome(outcome)
	if err != nil {
		return err
	}
	fmt.Print(rendered)

	return outcome.Err()
}

var applyCmd = &cobra.Command{
	Use:   "apply <manifest.yaml>",
	Short: "Reconcile a VM toward its declared state",
	Long: `Reconcile a VM toward the state declared in a YAML manifest.

Missing resources (disk image, cloud-init seed ISO, domain definition) are
created; a running VM that should be stopped is shut down; a VM declared
absent is removed along with its files. Nothing is done when the host
already matches the manifest.

With --check, reports whether anything would change without touching the
host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vm, err := loader.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("Warning: failed to close libvirt connection: %v", err)
			}
		}()

		outcome := newReconciler(client, flagCheck).Reconcile(ctx, vm)
		return printOutcome(outcome)
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <vm-name>",
	Short: "Remove a VM and its files",
	Long: `Remove a virtual machine by name.

This reconciles the VM toward the absent state: a running VM is force
stopped, the domain is undefined (including NVRAM), and its disk image and
cloud-init seed ISO are deleted. Destroying a VM that does not exist is a
no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vm := v1alpha1.NewVirtualMachine(args[0])
		vm.Spec.State = v1alpha1.StateAbsent

		ctx := context.Background()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("Warning: failed to close libvirt connection: %v", err)
			}
		}()

		outcome := newReconciler(client, false).Reconcile(ctx, vm)
		return printOutcome(outcome)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <vm-name>",
	Short: "Show the observed state of a VM",
	Long:  `Probe and display a VM's current state, declared state, and guest IP address, without changing anything.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("Warning: failed to close libvirt connection: %v", err)
			}
		}()

		prober := probe.NewProber(client.Libvirt())
		observed, err := prober.Probe(ctx, args[0])
		if err != nil {
			return err
		}

		info := reconcile.VMInfo{
			Name:      args[0],
			State:     reconcile.FromRuntime(observed),
			IPAddress: observed.IPAddress,
		}

		// Show what the VM was declared as, when its spec was persisted in
		// the domain metadata.
		if observed.Exists {
			driver := hypervisor.NewDriver(client.Libvirt())
			declared, err := driver.DeclaredVM(ctx, args[0])
			if err != nil {
				log.Printf("Warning: %v", err)
			} else if declared != nil {
				info.DeclaredState = string(declared.Spec.State)
			}
		}

		return printOutcome(reconcile.Outcome{VM: info})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs on the host",
	Long:  `List all libvirt domains on the host with their state and resources.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Printf("Warning: failed to close libvirt connection: %v", err)
			}
		}()

		driver := hypervisor.NewDriver(client.Libvirt())
		domains, err := driver.List(ctx)
		if err != nil {
			return err
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(flagOutput),
			NoHeaders: flagNoHeaders,
		})
		if err != nil {
			return err
		}

		rendered, err := formatter.FormatDomainList(domains)
		if err != nil {
			return err
		}
		fmt.Print(rendered)
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		client, err := anvillibvirt.Connect("", 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		// libvirt returns the version as an integer like 8006000 for 8.6.0
		libVersion, err := client.Libvirt().ConnectGetLibVersion()
		if err != nil {
			return fmt.Errorf("failed to get libvirt version: %w", err)
		}
		fmt.Printf("✓ Libvirt version: %d.%d.%d\n",
			libVersion/1000000, (libVersion%1000000)/1000, libVersion%1000)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("✓ Connection URI: %s\n", uri)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
