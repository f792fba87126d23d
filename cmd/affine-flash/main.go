package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Gl0w1amp/Affine-IO/internal/dfu"
	"github.com/Gl0w1amp/Affine-IO/internal/flasher"
	"github.com/Gl0w1amp/Affine-IO/internal/usbdev"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	vidFlag        uint16
	pidFlag        uint16
	addressFlag    uint32
	timeoutFlag    time.Duration
	massEraseFlag  bool
	shortEraseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "affine-flash",
		Short: "Flash firmware to arcade I/O boards over USB DFU",
		Long: `Affine-IO flasher updates STM32-based arcade I/O boards through the
ST system bootloader's USB DFU interface. Put the board in DFU mode
(hold BOOT0 while resetting, or use the vendor tool) and run flash.

No debugger or ST-specific host software is required.`,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash firmware to a DFU-mode device",
		Long: `Flash a raw firmware image to the device's internal flash.

The tool waits up to the discovery timeout for a DFU device to appear,
so it is fine to run it first and reset the board into the bootloader
afterwards. When the bootloader describes its flash layout, only the
pages the image covers are erased; otherwise the whole chip is erased
first. Use --mass-erase to force a full-chip erase either way.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().Uint16Var(&vidFlag, "vid", dfu.VendorID, "USB vendor ID of the bootloader")
	flashCmd.Flags().Uint16Var(&pidFlag, "pid", dfu.ProductID, "USB product ID of the bootloader")
	flashCmd.Flags().Uint32Var(&addressFlag, "address", dfu.BaseAddress, "Flash load address")
	flashCmd.Flags().DurationVarP(&timeoutFlag, "timeout", "t", 10*time.Second, "Device discovery timeout")
	flashCmd.Flags().BoolVar(&massEraseFlag, "mass-erase", false, "Erase the whole chip instead of only the written pages")
	flashCmd.Flags().BoolVar(&shortEraseFlag, "short-erase", false, "Use the one-byte erase command (older bootloaders)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List DFU-mode devices on the bus",
		RunE:  runList,
	}
	listCmd.Flags().Uint16Var(&vidFlag, "vid", dfu.VendorID, "USB vendor ID to match")
	listCmd.Flags().Uint16Var(&pidFlag, "pid", dfu.ProductID, "USB product ID to match")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("affine-flash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionClearOnFinish(),
	)

	f := flasher.New(
		flasher.WithDevice(vidFlag, pidFlag),
		flasher.WithBaseAddress(addressFlag),
		flasher.WithOpenTimeout(timeoutFlag),
		flasher.WithForceMassErase(massEraseFlag),
		flasher.WithShortEraseCommand(shortEraseFlag),
		flasher.WithProgress(func(percent int) {
			bar.Set(percent)
		}),
		flasher.WithStatus(func(msg string) {
			bar.Clear()
			fmt.Println(msg)
		}),
	)

	if err := f.Flash(ctx, args[0]); err != nil {
		return err
	}

	bar.Finish()
	fmt.Println("Done!")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	devices, err := usbdev.List(vidFlag, pidFlag)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Printf("No DFU devices found (vid=0x%04X pid=0x%04X)\n", vidFlag, pidFlag)
		return nil
	}

	fmt.Println("DFU-mode devices:")
	for _, d := range devices {
		fmt.Printf("  bus %03d device %03d  %s\n", d.Bus, d.Address, d.Path)
	}
	return nil
}
