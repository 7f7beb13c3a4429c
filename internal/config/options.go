package config

// Options is the CLI surface spec §6 documents, laid out as one
// go-flags struct the same way the daemon this module is grounded on
// defines its Start command.
type Options struct {
	HFPath             string `short:"d" long:"hf-path" description:"directory holding sys_params.txt, symm.txt, hcore.txt, eris.txt"`
	ResultDir          string `short:"y" long:"result-dir" description:"directory to write output files into"`
	TargetNorm         float64 `short:"t" long:"target-norm" description:"target one-norm for the compressed vector (parsed; not read by either driver)"`
	VecNonz            int     `short:"m" long:"vec-nonz" description:"target nonzero count for the vector compression pass"`
	MatNonz            int     `short:"M" long:"mat-nonz" description:"target nonzero count for the matrix-column compression pass"`
	MaxDets            int     `short:"p" long:"max-dets" description:"maximum number of stored determinants (parsed; not read by either driver)"`
	InitiatorThresh    float64 `short:"i" long:"initiator-thresh" description:"initiator weight threshold (parsed; not read by either driver, which stage every add as an initiator)"`
	LoadDir            string  `short:"l" long:"load-dir" description:"directory to restart from (dets<rank>.dat/vals<rank>.dat dumps)"`
	IniVec             string  `short:"n" long:"ini-vec" description:"prefix of the <trial_vec>dets/<trial_vec>vals initial vector"`
	Distribution       string  `short:"q" long:"distribution" choice:"NU" choice:"HB" choice:"HB_unnorm" default:"NU" description:"factored excitation proposal distribution (parsed; the driver always uses the near-uniform sampler)"`
	DetSpace           string  `short:"s" long:"det-space" description:"path to the deterministic subspace determinant list (parsed; not read)"`
	RestartInterval    int     `long:"restart_int" description:"iterations between Arnoldi restarts"`
	RestartTechnique   string  `long:"restart_technique" choice:"eig" choice:"h_inv" choice:"r_inv" default:"eig" description:"Arnoldi restart technique"`
	NormTechnique      string  `long:"norm_technique" choice:"none" choice:"1-norm" choice:"max-1-norm" default:"none" description:"trial-vector normalization technique"`
	LogLevel           string  `short:"v" long:"loglevel" default:"info" description:"log level: debug, info, notice, warning, error, critical"`
	LogFile            string  `long:"logfile" description:"path to an additional log file backend"`
	Seed               uint64  `long:"seed" description:"scrambler/PRNG seed shared across processes"`
	NVecs              int     `long:"n-vecs" default:"1" description:"number of value rows carried per stored determinant"`
	ShiftInterval      int     `long:"shift-interval" default:"10" description:"iterations between shift adjustments"`
	MaxIter            int     `long:"max-iter" default:"1000" description:"number of iterations to run before exiting"`
	SaveInterval       int     `long:"save-interval" default:"0" description:"iterations between checkpoint dumps (0 disables)"`
	CandPerRow         int     `long:"cand-per-row" default:"6" description:"candidate excitations drawn per row before sub-weighting"`
	Damp               float64 `long:"damp" default:"0.1" description:"shift-adjustment damping factor"`
	NDetermine         int     `long:"n-determine" default:"0" description:"size of the deterministic subspace prefix"`
	NTrial             int     `long:"n-trial" default:"0" description:"number of Arnoldi trial vectors; 0 runs the plain power-method driver"`
}
