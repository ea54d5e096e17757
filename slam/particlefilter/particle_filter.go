package particlefilter

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/saptadeb/botLab-sub001/lidar"
	"github.com/saptadeb/botLab-sub001/occupancygrid"
	"github.com/saptadeb/botLab-sub001/spatialmath"
)

const (
	// Particle weights below this are raised to it before normalization so that no particle is
	// ever impossible to resample.
	minParticleWeight = 0.001
	// Standard deviation of the jitter applied to the seed pose when the filter is initialized.
	initialPoseStdDev = 0.01
)

// ErrEstimateDiverged is returned when the posterior mean is not a usable pose. The previous
// estimate is kept when this happens.
var ErrEstimateDiverged = errors.New("particle filter estimate diverged")

// Config configures a ParticleFilter.
type Config struct {
	NumParticles int
	ActionModel  ActionModelConfig
	RayStride    int
	// Seed seeds the filter's random source. Filters with the same seed and inputs produce the
	// same particles.
	Seed int64
}

// ParticleFilter estimates the robot pose from odometry and laser scans. It is not safe for
// concurrent use.
type ParticleFilter struct {
	numParticles int
	rng          *rand.Rand
	actionModel  *ActionModel
	sensorModel  SensorModel

	posterior     []Particle
	posteriorPose spatialmath.Pose
}

// New returns a filter with cfg.NumParticles particles, all at the origin until
// InitializeFilterAtPose is called.
func New(cfg Config) (*ParticleFilter, error) {
	if cfg.NumParticles < 2 {
		return nil, errors.Errorf("a particle filter needs at least 2 particles, got %d", cfg.NumParticles)
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))
	pf := &ParticleFilter{
		numParticles: cfg.NumParticles,
		rng:          rng,
		actionModel:  NewActionModel(cfg.ActionModel, rng),
		sensorModel:  SensorModel{RayStride: cfg.RayStride},
		posterior:    make([]Particle, cfg.NumParticles),
	}
	return pf, nil
}

// NumParticles returns the fixed size of the particle set.
func (pf *ParticleFilter) NumParticles() int {
	return pf.numParticles
}

// InitializeFilterAtPose scatters the particles around pose with small gaussian noise. The last
// particle is placed exactly at pose.
func (pf *ParticleFilter) InitializeFilterAtPose(pose spatialmath.Pose) {
	weight := 1 / float64(pf.numParticles)
	pf.posteriorPose = pose

	for i := range pf.posterior {
		jittered := spatialmath.NewPose(
			pose.Utime,
			pose.X+pf.rng.NormFloat64()*initialPoseStdDev,
			pose.Y+pf.rng.NormFloat64()*initialPoseStdDev,
			pose.Theta+pf.rng.NormFloat64()*initialPoseStdDev,
		)
		pf.posterior[i] = Particle{Pose: jittered, ParentPose: jittered, Weight: weight}
	}
	last := &pf.posterior[len(pf.posterior)-1]
	last.Pose = pose
	last.ParentPose = pose
}

// UpdateFilter runs one resample, propose and weight cycle. When the odometry shows no motion
// the particles are left alone and the previous estimate is returned. The returned estimate is
// stamped with the odometry time. If the new estimate is not finite or falls outside the grid,
// the previous estimate is returned along with ErrEstimateDiverged.
func (pf *ParticleFilter) UpdateFilter(
	odometry spatialmath.Pose,
	scan *lidar.LaserScan,
	grid *occupancygrid.Grid,
) (spatialmath.Pose, error) {
	var err error
	if pf.actionModel.UpdateAction(odometry) {
		prior := pf.resamplePosteriorDistribution()
		proposal := pf.computeProposalDistribution(prior)
		pf.posterior = pf.computeNormalizedPosterior(proposal, scan, grid)

		estimate := estimatePosteriorPose(pf.posterior)
		if isUsableEstimate(estimate, grid) {
			pf.posteriorPose = estimate
		} else {
			err = errors.Wrapf(ErrEstimateDiverged, "estimate %v", estimate)
		}
	}
	pf.posteriorPose.Utime = odometry.Utime
	return pf.posteriorPose, err
}

// UpdateFilterActionOnly moves the particles with the action model and no sensor update. The
// estimate becomes the odometry pose.
func (pf *ParticleFilter) UpdateFilterActionOnly(odometry spatialmath.Pose) spatialmath.Pose {
	if pf.actionModel.UpdateAction(odometry) {
		pf.posterior = pf.computeProposalDistribution(pf.posterior)
	}
	pf.posteriorPose = odometry
	return pf.posteriorPose
}

// PoseEstimate returns the latest estimate.
func (pf *ParticleFilter) PoseEstimate() spatialmath.Pose {
	return pf.posteriorPose
}

// Particles returns a copy of the current posterior.
func (pf *ParticleFilter) Particles() []Particle {
	return append([]Particle(nil), pf.posterior...)
}

// resamplePosteriorDistribution draws a new generation with the low-variance sampler: a single
// offset in [0, 1/N) and N evenly spaced picks along the cumulative weights.
func (pf *ParticleFilter) resamplePosteriorDistribution() []Particle {
	n := len(pf.posterior)
	step := 1 / float64(n)
	r := pf.rng.Float64() * step

	prior := make([]Particle, 0, n)
	i := 0
	cumulative := pf.posterior[0].Weight
	for m := 0; m < n; m++ {
		u := r + float64(m)*step
		for u > cumulative && i < n-1 {
			i++
			cumulative += pf.posterior[i].Weight
		}
		prior = append(prior, pf.posterior[i])
	}
	return prior
}

func (pf *ParticleFilter) computeProposalDistribution(prior []Particle) []Particle {
	proposal := make([]Particle, len(prior))
	for i, p := range prior {
		proposal[i] = pf.actionModel.ApplyAction(p)
	}
	return proposal
}

func (pf *ParticleFilter) computeNormalizedPosterior(
	proposal []Particle,
	scan *lidar.LaserScan,
	grid *occupancygrid.Grid,
) []Particle {
	weights := make([]float64, len(proposal))
	for i, p := range proposal {
		weights[i] = pf.sensorModel.Likelihood(p, scan, grid)
		if weights[i] < minParticleWeight {
			weights[i] = minParticleWeight
		}
	}
	floats.Scale(1/floats.Sum(weights), weights)

	posterior := make([]Particle, len(proposal))
	for i, p := range proposal {
		p.Weight = weights[i]
		posterior[i] = p
	}
	return posterior
}

// estimatePosteriorPose returns the weighted mean position and the weighted circular mean
// heading of the particles.
func estimatePosteriorPose(posterior []Particle) spatialmath.Pose {
	n := len(posterior)
	xs, ys, thetas, weights := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, p := range posterior {
		xs[i], ys[i], thetas[i], weights[i] = p.Pose.X, p.Pose.Y, p.Pose.Theta, p.Weight
	}
	return spatialmath.Pose{
		X:     stat.Mean(xs, weights),
		Y:     stat.Mean(ys, weights),
		Theta: stat.CircularMean(thetas, weights),
	}
}

func isUsableEstimate(pose spatialmath.Pose, grid *occupancygrid.Grid) bool {
	if !pose.IsFinite() {
		return false
	}
	cell := occupancygrid.GlobalToCell(pose.Point(), grid)
	return grid.IsCellInGrid(cell.X, cell.Y)
}
