package main

import (
	"fmt"
	"os"
	"strconv"

	ngstore "github.com/nextgis/nextgis-datastore-sub001"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	overviewsCmd = &cobra.Command{
		Use:   "overviews STORE FEATURECLASS",
		Short: "Build the vector overviews of a feature class",
		Args:  cobra.ExactArgs(2),
		RunE:  runOverviews,
	}
	tileCmd = &cobra.Command{
		Use:   "tile STORE FEATURECLASS Z X Y",
		Short: "Print the items of a tile",
		Args:  cobra.ExactArgs(5),
		RunE:  runTile,
	}
	editLogCmd = &cobra.Command{
		Use:   "editlog STORE TABLE",
		Short: "Print the pending edit operations of a table",
		Args:  cobra.ExactArgs(2),
		RunE:  runEditLog,
	}
	hashCmd = &cobra.Command{
		Use:   "hash STORE TABLE",
		Short: "Log the changes made since the last hash baseline",
		Args:  cobra.ExactArgs(2),
		RunE:  runHash,
	}
	exportCmd = &cobra.Command{
		Use:   "export STORE FEATURECLASS",
		Short: "Write a feature class as GeoJSON to stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}
	importCmd = &cobra.Command{
		Use:   "import STORE FEATURECLASS FILE",
		Short: "Insert the features of a GeoJSON file into a feature class",
		Args:  cobra.ExactArgs(3),
		RunE:  runImport,
	}
)

func init() {
	overviewsCmd.Flags().String("zoom-levels", "", "comma separated zoom levels")
	overviewsCmd.Flags().Bool("force", false, "rebuild existing overviews")

	editLogCmd.Flags().Bool("ack", false, "delete the printed operations")

	hashCmd.Flags().Bool("fill", false, "record a new baseline instead of diffing")
}

func runOverviews(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	fc, err := ds.FeatureClass(args[1])
	if err != nil {
		return err
	}
	opts := ngstore.Options{}.
		Set(ngstore.OptionZoomLevels, viper.GetString("zoom-levels")).
		Set(ngstore.OptionForce, strconv.FormatBool(viper.GetBool("force")))
	if err := fc.CreateOverviews(progress(ds.Context().Log), opts); err != nil {
		return err
	}
	for _, z := range fc.ZoomLevels() {
		n, err := ds.OverviewsCount(fc.Name(), z)
		if err != nil {
			return err
		}
		fmt.Printf("zoom %d: %d tiles\n", z, n)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	fc, err := ds.FeatureClass(args[1])
	if err != nil {
		return err
	}
	return fc.WriteGeoJSON(os.Stdout)
}

func runImport(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	fc, err := ds.FeatureClass(args[1])
	if err != nil {
		return err
	}
	f, err := os.Open(args[2])
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := fc.ReadGeoJSON(f)
	fmt.Printf("%d features stored\n", n)
	return err
}

func parseTile(args []string) (ngstore.Tile, error) {
	var nums [3]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return ngstore.Tile{}, errors.Wrapf(err, "tile coordinate %q", a)
		}
		nums[i] = n
	}
	if nums[0] < 0 || nums[0] > 30 {
		return ngstore.Tile{}, errors.Errorf("zoom %d out of range", nums[0])
	}
	return ngstore.Tile{Z: uint8(nums[0]), X: nums[1], Y: nums[2]}, nil
}

func runTile(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	fc, err := ds.FeatureClass(args[1])
	if err != nil {
		return err
	}
	t, err := parseTile(args[2:])
	if err != nil {
		return err
	}
	vt, err := fc.GetTile(t, ngstore.TileExtent(t))
	if err != nil {
		return err
	}
	fmt.Printf("tile %s: %d items, %d ids\n", t, len(vt.Items()), vt.IDCount())
	for i, item := range vt.Items() {
		fmt.Printf("  %d: points=%d indices=%d ids=%v\n", i, len(item.Points), len(item.Indices), item.IDs.Sorted())
	}
	return nil
}

func runEditLog(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	t, err := ds.Table(args[1])
	if err != nil {
		return err
	}
	ops, err := t.EditOperations()
	if err != nil {
		return err
	}
	printOperations(ops)
	if !viper.GetBool("ack") {
		return nil
	}
	for _, op := range ops {
		if err := t.DeleteEditOperation(op); err != nil {
			return err
		}
	}
	return nil
}

func runHash(cmd *cobra.Command, args []string) error {
	ds, err := openStore(args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	t, err := ds.Table(args[1])
	if err != nil {
		return err
	}
	hs, err := ngstore.NewHashStore(t)
	if err != nil {
		return err
	}
	if viper.GetBool("fill") {
		return hs.FillHash(progress(ds.Context().Log))
	}
	n, err := hs.UpdateHashAndEditLog()
	if err != nil {
		return err
	}
	fmt.Printf("%d changes logged\n", n)
	return nil
}

func printOperations(ops []ngstore.EditOperation) {
	for _, op := range ops {
		fmt.Printf("%-22s fid=%d aid=%d rid=%d arid=%d\n", op.Code, op.FID, op.AID, op.RID, op.ARID)
	}
	fmt.Printf("%d operations\n", len(ops))
}
