package conf

import (
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestEnvFlag(t *testing.T) {
	Convey("While using Flag struct, it should construct a proper tide environment var name", t, func() {
		So(NewStringFlag("test_name", "", "").envName(), ShouldEqual, "TIDE_TEST_NAME")
	})
}

func TestFlags(t *testing.T) {
	Convey("While using conf flags", t, func() {
		Convey("When some custom String Flag is defined", func() {
			customFlag := NewStringFlag("custom_string_arg", "help", "default")
			customFlag.clear()
			defer customFlag.clear()

			Convey("Without parse it should be default", func() {
				So(customFlag.Value(), ShouldEqual, "default")
			})

			Convey("When we do not define any environment variable we should have the default value after parse", func() {
				err := ParseEnv()
				So(err, ShouldBeNil)
				So(customFlag.Value(), ShouldEqual, customFlag.defaultValue)
			})

			Convey("When we define a custom environment variable we should have the custom value after parse", func() {
				customValue := "customContent"
				os.Setenv(customFlag.envName(), customValue)

				err := ParseEnv()
				So(err, ShouldBeNil)
				So(customFlag.Value(), ShouldEqual, customValue)
			})
		})

		Convey("When some custom Int Flag is defined", func() {
			customFlag := NewIntFlag("custom_int_arg", "help", 23424)
			customFlag.clear()
			defer customFlag.clear()

			Convey("Without parse it should be default", func() {
				So(customFlag.Value(), ShouldEqual, 23424)
			})

			Convey("When we define a custom environment variable we should have the custom value after parse", func() {
				os.Setenv(customFlag.envName(), "12")

				err := ParseEnv()
				So(err, ShouldBeNil)
				So(customFlag.Value(), ShouldEqual, 12)
			})
		})

		Convey("When some custom Bool Flag is defined", func() {
			customFlag := NewBoolFlag("custom_bool_arg", "help", false)
			customFlag.clear()
			defer customFlag.clear()

			Convey("Without parse it should be default", func() {
				So(customFlag.Value(), ShouldBeFalse)
			})

			Convey("When we define a custom environment variable we should have the custom value after parse", func() {
				os.Setenv(customFlag.envName(), "true")

				err := ParseEnv()
				So(err, ShouldBeNil)
				So(customFlag.Value(), ShouldBeTrue)
			})
		})

		Convey("Redefining a flag with an identical definition should reuse it", func() {
			first := NewStringFlag("custom_string_arg", "help", "default")
			So(NewStringFlag("custom_string_arg", "help", "default"), ShouldEqual, first)
		})

		Convey("Redefining a flag with a different default should panic", func() {
			NewStringFlag("custom_string_arg", "help", "default")
			So(func() { NewStringFlag("custom_string_arg", "help", "other") }, ShouldPanic)
		})

		Convey("Redefining a flag with a different type should panic", func() {
			NewStringFlag("custom_string_arg", "help", "default")
			So(func() { NewIntFlag("custom_string_arg", "help", 7) }, ShouldPanic)
		})
	})
}
