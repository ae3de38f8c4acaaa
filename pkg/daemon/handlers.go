package daemon

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/calibration"
	"github.com/djamfikr7/ble32/pkg/config"
	"github.com/djamfikr7/ble32/pkg/history"
	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/powerinfo"
	"github.com/djamfikr7/ble32/pkg/scale"
	"github.com/djamfikr7/ble32/pkg/version"
)

// WeightResponse is the body of GET /weight.
type WeightResponse struct {
	scale.State
	Weight float64 `json:"weight"`
	Status string  `json:"status"`
}

// PacketResponse is the body of GET /packet.
type PacketResponse struct {
	Hex    string        `json:"hex"`
	Report packet.Report `json:"report"`
}

// NoiseRequest is the body of PUT /noise.
type NoiseRequest struct {
	ProcessNoise     float64 `json:"processNoise"`
	MeasurementNoise float64 `json:"measurementNoise"`
}

// SimulateRequest is the body of PUT /simulate.
type SimulateRequest struct {
	Grams float64 `json:"grams"`
	Ready *bool   `json:"ready,omitempty"`
}

// AutoTareResponse is the body of GET /auto-tare.
type AutoTareResponse struct {
	Cron    string `json:"cron"`
	NextRun int64  `json:"nextRun,omitempty"`
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) getWeight(c *gin.Context) {
	st := d.State()
	c.IndentedJSON(http.StatusOK, WeightResponse{
		State:  st,
		Weight: st.Unit.FromGrams(st.LastFiltered),
		Status: st.Status(),
	})
}

func (d *Daemon) getPacket(c *gin.Context) {
	b := d.LastReport()
	r, err := packet.Decode(b[:])
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, PacketResponse{Hex: hex.EncodeToString(b[:]), Report: r})
}

func (d *Daemon) putTare(c *gin.Context) {
	if err := d.Tare(); err != nil {
		logrus.Errorf("tare failed: %v", err)
		abort(c, http.StatusServiceUnavailable, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "tared")
}

func (d *Daemon) putCalibrate(c *gin.Context) {
	var reference float64
	if err := c.BindJSON(&reference); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	err := d.Calibrate(reference)
	switch {
	case err == nil:
	case errors.Is(err, calibration.ErrInvalidReference), errors.Is(err, calibration.ErrInvalidFactor):
		abort(c, http.StatusBadRequest, err)
		return
	default:
		abort(c, http.StatusServiceUnavailable, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.CalibrationStatus())
}

func (d *Daemon) getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.CalibrationStatus())
}

func (d *Daemon) putUnit(c *gin.Context) {
	var u scale.Unit
	if err := c.BindJSON(&u); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := d.SetUnit(u); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "unit set to "+u.String())
}

func (d *Daemon) putNoise(c *gin.Context) {
	var req NoiseRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := d.SetNoise(req.ProcessNoise, req.MeasurementNoise); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, req)
}

func (d *Daemon) getConfig(c *gin.Context) {
	cf, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, cf)
}

func (d *Daemon) getBattery(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.Battery())
}

// putBattery overrides the level of a fixed battery source.
func (d *Daemon) putBattery(c *gin.Context) {
	var p int
	if err := c.BindJSON(&p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if p < 0 || p > 100 {
		abort(c, http.StatusBadRequest, errors.New("battery level must be between 0 and 100"))
		return
	}

	fixed, ok := d.battSrc.(*powerinfo.Fixed)
	if !ok {
		abort(c, http.StatusConflict, errors.New("battery level comes from the host battery"))
		return
	}
	fixed.Set(uint8(p))
	d.refreshBattery()

	c.IndentedJSON(http.StatusCreated, p)
}

func (d *Daemon) getHistory(c *gin.Context) {
	rec := d.recorderOrNil()
	if rec == nil {
		abort(c, http.StatusNotFound, errors.New("reading history is disabled"))
		return
	}

	n, err := strconv.ParseInt(c.DefaultQuery("n", "20"), 10, 64)
	if err != nil || n <= 0 {
		abort(c, http.StatusBadRequest, errors.New("n must be a positive integer"))
		return
	}

	entries, err := rec.Recent(c.Request.Context(), n)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.IndentedJSON(http.StatusOK, entries)
}

func (d *Daemon) getAutoTare(c *gin.Context) {
	resp := AutoTareResponse{Cron: d.conf.AutoTareCron()}
	if d.autoTare != nil {
		if next, _ := d.autoTare.Status(); !next.IsZero() {
			resp.NextRun = next.Unix()
		}
	}
	c.IndentedJSON(http.StatusOK, resp)
}

// putAutoTare sets the auto-tare schedule. An empty string disables it.
func (d *Daemon) putAutoTare(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if d.autoTare == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("scheduler not running"))
		return
	}

	var err error
	if expr == "" {
		d.autoTare.Clear()
	} else {
		err = d.autoTare.Schedule(expr)
	}
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetAutoTareCron(expr)
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("failed to save config: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.WithField("cron", expr).Info("auto-tare schedule changed")
	c.IndentedJSON(http.StatusCreated, expr)
}

func (d *Daemon) putSimulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := d.SetSimulatedLoad(req.Grams, req.Ready); err != nil {
		abort(c, http.StatusConflict, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, req)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
